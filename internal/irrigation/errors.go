package irrigation

import "errors"

var (
	// ErrInvalidParameter rejects an out-of-range channel, time or duration.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrStoreFull means every schedule slot is enabled.
	ErrStoreFull = errors.New("schedule store full")
	// ErrIndexOutOfRange rejects a slot index past the store capacity.
	ErrIndexOutOfRange = errors.New("schedule index out of range")
	// ErrPersistence wraps read and write failures of the schedule document.
	// When returned from a mutation the in-memory change has still been applied.
	ErrPersistence = errors.New("persistence failure")
)
