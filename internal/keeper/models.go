package keeper

import (
	"time"
)

// StartSpec describes one bot launch: an optional install step run to
// completion, then the long-lived run step.
type StartSpec struct {
	Identity string
	Dir      string
	Install  []string // empty skips the install step
	Run      []string
	Env      []string
}

// Handle is a live bot process. At most one per identity is tracked.
type Handle struct {
	Identity  string
	PID       int
	WorkDir   string
	StartedAt time.Time

	cmd      *JobCmd
	done     chan struct{}
	stopping bool
}

// Done is closed once the exit monitor has observed the process exit.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitEvent is published by the exit monitor after a run process exits.
type ExitEvent struct {
	Identity string
	PID      int
	ExitCode int    // -1 when terminated by a signal
	Signal   string // empty unless terminated by a signal
	Err      error  // non-nil when the wait itself failed
	At       time.Time
	Stopped  bool // the exit followed a Stop request
}
