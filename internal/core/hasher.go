package core

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"StakeLedger/internal/event"
)

const GenesisHashSeed = "StakeLedger:genesis:v1"

var ErrHashChainBroken = errors.New("state hash chain broken")

// StateHasher computes deterministic state hashes
type StateHasher struct {
	prevHash [32]byte
}

// GenesisHash is the prev_hash of the first event.
func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: GenesisHash(),
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hash := chainHash(h.prevHash, sequence, stateDigest)
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash moves the chain tip, e.g. after snapshot restore.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

func chainHash(prev [32]byte, sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(prev[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// VerifyChain checks that consecutive envelopes link: each PrevHash equals
// the StateHash before it and sequences are contiguous. A chain starting at
// sequence 1 must start from the genesis hash.
func VerifyChain(envs []*event.EventEnvelope) error {
	for i, env := range envs {
		if i == 0 {
			if env.Sequence == 1 && env.PrevHash != GenesisHash() {
				return fmt.Errorf("%w: seq 1 does not start from genesis", ErrHashChainBroken)
			}
			continue
		}
		prev := envs[i-1]
		if env.Sequence != prev.Sequence+1 {
			return fmt.Errorf("%w: seq %d follows %d", ErrHashChainBroken, env.Sequence, prev.Sequence)
		}
		if env.PrevHash != prev.StateHash {
			return fmt.Errorf("%w: seq %d prev_hash %x, seq %d state_hash %x",
				ErrHashChainBroken, env.Sequence, env.PrevHash[:8], prev.Sequence, prev.StateHash[:8])
		}
	}
	return nil
}
