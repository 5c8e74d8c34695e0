package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// PoolManager is the registry of pools, positions and admin credentials.
type PoolManager struct {
	pools     map[uuid.UUID]*Pool
	positions map[uuid.UUID]*Position
	owners    map[PositionKey]uuid.UUID
	caps      map[uuid.UUID]AdminCap
}

// PositionKey identifies a staker's position in a pool. An owner holds at
// most one position per pool.
type PositionKey struct {
	Owner  uuid.UUID
	PoolID uuid.UUID
}

func NewPoolManager() *PoolManager {
	return &PoolManager{
		pools:     make(map[uuid.UUID]*Pool),
		positions: make(map[uuid.UUID]*Position),
		owners:    make(map[PositionKey]uuid.UUID),
		caps:      make(map[uuid.UUID]AdminCap),
	}
}

// CreatePool creates and registers a pool.
func (pm *PoolManager) CreatePool(params PoolParams, now int64) (*Pool, AdminCap, error) {
	if _, ok := pm.pools[params.ID]; ok {
		return nil, AdminCap{}, fmt.Errorf("%w: %s", ErrPoolExists, params.ID)
	}
	if _, ok := pm.caps[params.AdminCapID]; ok {
		return nil, AdminCap{}, fmt.Errorf("%w: admin credential %s already issued", ErrPoolExists, params.AdminCapID)
	}
	pool, admin, err := CreatePool(params, now)
	if err != nil {
		return nil, AdminCap{}, err
	}
	pm.pools[pool.ID] = pool
	pm.caps[admin.ID()] = admin
	return pool, admin, nil
}

// OpenPosition registers an empty position of owner in poolID.
func (pm *PoolManager) OpenPosition(id, poolID, owner uuid.UUID) (*Position, error) {
	if _, ok := pm.pools[poolID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	if _, ok := pm.positions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionExists, id)
	}
	if existing, ok := pm.FindPosition(owner, poolID); ok {
		return nil, fmt.Errorf("%w: owner %s already holds %s in pool %s", ErrPositionExists, owner, existing.ID, poolID)
	}

	pos := NewPosition(id, poolID, owner)
	pm.positions[id] = pos
	pm.owners[PositionKey{Owner: owner, PoolID: poolID}] = id
	return pos, nil
}

func (pm *PoolManager) GetPool(id uuid.UUID) (*Pool, bool) {
	p, ok := pm.pools[id]
	return p, ok
}

func (pm *PoolManager) GetPosition(id uuid.UUID) (*Position, bool) {
	p, ok := pm.positions[id]
	return p, ok
}

// FindPosition returns owner's position in poolID, if any.
func (pm *PoolManager) FindPosition(owner, poolID uuid.UUID) (*Position, bool) {
	id, ok := pm.owners[PositionKey{Owner: owner, PoolID: poolID}]
	if !ok {
		return nil, false
	}
	return pm.GetPosition(id)
}

// AdminCap looks up an issued credential by id.
func (pm *PoolManager) AdminCap(id uuid.UUID) (AdminCap, bool) {
	c, ok := pm.caps[id]
	return c, ok
}

// GetAllPools returns every pool ordered by id.
func (pm *PoolManager) GetAllPools() []*Pool {
	out := make([]*Pool, 0, len(pm.pools))
	for _, p := range pm.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// GetAllPositions returns every position ordered by id.
func (pm *PoolManager) GetAllPositions() []*Position {
	out := make([]*Position, 0, len(pm.positions))
	for _, p := range pm.positions {
		out = append(out, p)
	}
	sortPositions(out)
	return out
}

// GetPoolPositions returns the positions of one pool ordered by id.
func (pm *PoolManager) GetPoolPositions(poolID uuid.UUID) []*Position {
	var out []*Position
	for _, p := range pm.positions {
		if p.PoolID == poolID {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

// VerifyStakedTotal checks that the pool's StakedTotal equals the sum of its
// positions and that the pool holds exactly that many shares.
func (pm *PoolManager) VerifyStakedTotal(poolID uuid.UUID) error {
	pool, ok := pm.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	var sum uint64
	for _, p := range pm.GetPoolPositions(poolID) {
		next := sum + p.Amount
		if next < sum {
			return fmt.Errorf("%w: pool %s position sum overflows", ErrArithmeticDefect, poolID)
		}
		sum = next
	}
	if sum != pool.StakedTotal {
		return fmt.Errorf("pool %s: staked total %d, positions sum to %d", poolID, pool.StakedTotal, sum)
	}
	if pool.ShareCustody() != pool.StakedTotal {
		return fmt.Errorf("pool %s: share custody %d, staked total %d", poolID, pool.ShareCustody(), pool.StakedTotal)
	}
	return nil
}

// Restore replaces the registry contents with pools and positions rebuilt
// from records. Admin credentials are reissued from each pool's owner
// authority.
func (pm *PoolManager) Restore(pools []PoolRecord, positions []PositionRecord) error {
	next := NewPoolManager()
	for _, r := range pools {
		pool, err := PoolFromRecord(r)
		if err != nil {
			return err
		}
		if _, ok := next.pools[pool.ID]; ok {
			return fmt.Errorf("%w: %s", ErrPoolExists, pool.ID)
		}
		next.pools[pool.ID] = pool
		next.caps[pool.OwnerAuthorityID] = AdminCap{id: pool.OwnerAuthorityID, poolID: pool.ID}
	}
	for _, r := range positions {
		pos, err := PositionFromRecord(r)
		if err != nil {
			return err
		}
		if _, ok := next.pools[pos.PoolID]; !ok {
			return fmt.Errorf("position %s: %w: %s", pos.ID, ErrPoolNotFound, pos.PoolID)
		}
		key := PositionKey{Owner: pos.Owner, PoolID: pos.PoolID}
		if _, ok := next.owners[key]; ok {
			return fmt.Errorf("%w: owner %s in pool %s", ErrPositionExists, pos.Owner, pos.PoolID)
		}
		next.positions[pos.ID] = pos
		next.owners[key] = pos.ID
	}

	*pm = *next
	return nil
}

func sortPositions(ps []*Position) {
	sort.Slice(ps, func(i, j int) bool {
		return bytes.Compare(ps[i].ID[:], ps[j].ID[:]) < 0
	})
}
