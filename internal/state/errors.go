package state

import "errors"

// Operation errors. Each aborts the operation with no state change.
var (
	ErrInvalidReleaseTime       = errors.New("release time must be in the future")
	ErrAccountPoolMismatch      = errors.New("position does not belong to pool")
	ErrInsufficientStakedAmount = errors.New("insufficient staked amount")
	ErrUnauthorized             = errors.New("admin credential does not control pool")
	ErrAssetMismatch            = errors.New("deposit asset does not match pool")

	// ErrArithmeticDefect signals overflow or a negative pending reward. It
	// indicates a broken invariant, not a bad request.
	ErrArithmeticDefect = errors.New("arithmetic defect")
)

// Registry errors.
var (
	ErrPoolNotFound     = errors.New("pool not found")
	ErrPoolExists       = errors.New("pool already exists")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("position already exists")
)
