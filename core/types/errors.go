// Package types defines common errors used across the battle runtime.
package types

import "errors"

// Common errors.
var (
	// Request errors
	ErrBattleNotFound   = errors.New("battle not found")
	ErrNotParticipant   = errors.New("user is not a participant in this battle")
	ErrNotAuthenticated = errors.New("user not authenticated")
	ErrBattleEnded      = errors.New("battle has ended")

	// Engine precondition errors. These indicate programming errors in the
	// caller and must not be handled.
	ErrInvalidPhase = errors.New("invalid battle phase")
	ErrTurnMismatch = errors.New("action turn index does not match state")

	// Store errors
	ErrStateCorrupted = errors.New("battle state is corrupted")

	// Lifecycle errors
	ErrValidationFailed = errors.New("ruleset validation failed")
	ErrProfileNotFound  = errors.New("player profile not found")
)
