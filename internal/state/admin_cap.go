package state

import "github.com/google/uuid"

// AdminCap is the administrative credential of exactly one pool. It can only
// be obtained from CreatePool (or rebuilt by the registry on restore), so
// holding one proves the right to run privileged pool operations.
type AdminCap struct {
	id     uuid.UUID
	poolID uuid.UUID
}

func (c AdminCap) ID() uuid.UUID     { return c.id }
func (c AdminCap) PoolID() uuid.UUID { return c.poolID }

// controls reports whether c was issued for pool.
func (c AdminCap) controls(pool *Pool) bool {
	return c.poolID == pool.ID && c.id == pool.OwnerAuthorityID
}
