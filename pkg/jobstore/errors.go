package jobstore

import "errors"

// Sentinel errors for the job state store.
var (
	// ErrAlreadyExists indicates an admission conflict: an active,
	// unexpired job already holds the (identity, action) slot.
	ErrAlreadyExists = errors.New("job already exists")

	// ErrNotFound indicates no job directory exists for the ticket.
	ErrNotFound = errors.New("job not found")

	// ErrGone indicates the job existed but its retention window has
	// passed. Surfaced by callers, distinct from ErrNotFound so clients
	// can tell "never existed" from "existed and expired".
	ErrGone = errors.New("job expired")

	// ErrTerminal indicates an attempted mutation of a record that has
	// already reached a terminal state.
	ErrTerminal = errors.New("job already finalized")

	// ErrCorruptRecord indicates process_info.json is missing or
	// unparseable inside an existing job directory.
	ErrCorruptRecord = errors.New("corrupt job record")
)

// IsConflict reports whether err is an admission conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsNotFound reports whether err indicates an unknown ticket.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
