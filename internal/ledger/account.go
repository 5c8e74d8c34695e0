package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePosition AccountScope = iota
	AccountScopePool
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Position sub-types
	SubTypeRewardPayouts AccountSubType = iota

	// Pool sub-types
	SubTypeStakedShares
	SubTypeRewardBalance

	// External sub-types
	SubTypeShareDeposits
	SubTypeShareWithdrawals
	SubTypeRewardDeposits
)

// AssetClass separates the two tokens a pool handles. The concrete asset is
// fixed per pool, so (pool, class) identifies it.
type AssetClass uint8

const (
	AssetClassShare AssetClass = iota + 1
	AssetClassReward
)

func (c AssetClass) String() string {
	switch c {
	case AssetClassShare:
		return "share"
	case AssetClassReward:
		return "reward"
	}
	return "unknown"
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // position id or pool id
	SubType  AccountSubType
	Class    AssetClass
}

// NewPositionAccountKey creates a key for a staker position account
func NewPositionAccountKey(positionID uuid.UUID, subType AccountSubType, class AssetClass) AccountKey {
	return AccountKey{Scope: AccountScopePosition, EntityID: positionID, SubType: subType, Class: class}
}

// NewPoolAccountKey creates a key for a pool custody account
func NewPoolAccountKey(poolID uuid.UUID, subType AccountSubType, class AssetClass) AccountKey {
	return AccountKey{Scope: AccountScopePool, EntityID: poolID, SubType: subType, Class: class}
}

// NewExternalAccountKey creates a key for the external boundary of a pool
func NewExternalAccountKey(poolID uuid.UUID, subType AccountSubType, class AssetClass) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, EntityID: poolID, SubType: subType, Class: class}
}

var (
	scopeNames = map[AccountScope]string{
		AccountScopePosition: "position",
		AccountScopePool:     "pool",
		AccountScopeExternal: "external",
	}
	subTypeNames = map[AccountSubType]string{
		SubTypeRewardPayouts:    "reward_payouts",
		SubTypeStakedShares:     "staked_shares",
		SubTypeRewardBalance:    "reward_balance",
		SubTypeShareDeposits:    "share_deposits",
		SubTypeShareWithdrawals: "share_withdrawals",
		SubTypeRewardDeposits:   "reward_deposits",
	}
)

// AccountPath returns the string representation for storage/logging,
// e.g. "pool:<uuid>:staked_shares:share".
func (k AccountKey) AccountPath() string {
	scope, ok := scopeNames[k.Scope]
	if !ok {
		return "unknown"
	}
	sub, ok := subTypeNames[k.SubType]
	if !ok {
		sub = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s:%s", scope, uuid.UUID(k.EntityID), sub, k.Class)
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	if len(parts) != 4 {
		return AccountKey{}, fmt.Errorf("malformed account path %q", path)
	}

	var key AccountKey
	found := false
	for scope, name := range scopeNames {
		if name == parts[0] {
			key.Scope, found = scope, true
			break
		}
	}
	if !found {
		return AccountKey{}, fmt.Errorf("account path %q: unknown scope", path)
	}

	id, err := uuid.Parse(parts[1])
	if err != nil {
		return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
	}
	key.EntityID = id

	found = false
	for sub, name := range subTypeNames {
		if name == parts[2] {
			key.SubType, found = sub, true
			break
		}
	}
	if !found {
		return AccountKey{}, fmt.Errorf("account path %q: unknown sub-type", path)
	}

	switch parts[3] {
	case "share":
		key.Class = AssetClassShare
	case "reward":
		key.Class = AssetClassReward
	default:
		return AccountKey{}, fmt.Errorf("account path %q: unknown asset class", path)
	}
	return key, nil
}
