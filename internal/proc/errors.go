package proc

import "errors"

var (
	// ErrEntryNotCallable is returned by New for a name that was never
	// registered.
	ErrEntryNotCallable = errors.New("entry not callable")
	// ErrSpawnFailed wraps an OS refusal to start the child.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("process already started")
	// ErrNotStarted is returned by operations that need a child pid.
	ErrNotStarted = errors.New("process not started")
	// ErrStillRunning is returned by Close while the child is alive.
	ErrStillRunning = errors.New("process still running")
)
