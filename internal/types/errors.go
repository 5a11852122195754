// internal/types/errors.go
package types

import "errors"

// Expected, recoverable conditions. Callers branch on these rather than
// treating them as faults (store errors are the only class that
// propagates unwrapped).
var (
	ErrNoActiveSession = errors.New("no active session")
	ErrNotFound        = errors.New("not found")
	ErrNotPending      = errors.New("action is not pending")
	ErrCorruptState    = errors.New("corrupt state file")
)
