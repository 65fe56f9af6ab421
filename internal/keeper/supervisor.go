package keeper

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"botcloud/internal/logger"
	"botcloud/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrInstallFailed       = errors.New("install failed")
	ErrProcessLaunchFailed = errors.New("process launch failed")
	ErrBusy                = errors.New("identity busy")
	ErrClosed              = errors.New("supervisor closed")
)

// Publisher receives process output and lifecycle lines.
type Publisher interface {
	Publish(identity string, sev models.Severity, message string)
}

// Supervisor owns the live bot processes, keyed by identity.
type Supervisor struct {
	pub   Publisher
	grace time.Duration
	log   *logrus.Entry

	mu        sync.Mutex
	handles   map[string]*Handle
	pending   map[string]struct{}
	listeners []func(ExitEvent)
	closed    bool
}

// New creates a Supervisor. grace bounds both the wait after SIGTERM and the
// wait after SIGKILL.
func New(pub Publisher, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = 3 * time.Second
	}
	return &Supervisor{
		pub:     pub,
		grace:   grace,
		log:     logger.For("keeper"),
		handles: make(map[string]*Handle),
		pending: make(map[string]struct{}),
	}
}

// OnExit registers fn to be called after every run process exit.
func (s *Supervisor) OnExit(fn func(ExitEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start runs the install step to completion and then launches the run step.
// It returns as soon as the run process is spawned.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) (*Handle, error) {
	if len(spec.Run) == 0 {
		return nil, fmt.Errorf("%w: empty run command", ErrProcessLaunchFailed)
	}
	if err := s.reserve(spec.Identity); err != nil {
		return nil, err
	}
	defer s.release(spec.Identity)

	if len(spec.Install) > 0 {
		s.pub.Publish(spec.Identity, models.SeveritySystem,
			fmt.Sprintf("Installing dependencies (%s)...", strings.Join(spec.Install, " ")))
		if err := s.install(ctx, spec); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProcessLaunchFailed, err)
	}

	s.pub.Publish(spec.Identity, models.SeveritySystem,
		fmt.Sprintf("Launching bot process (%s)...", strings.Join(spec.Run, " ")))

	out := newPump(spec.Identity, s.pub)
	stdout := newLineWriter(out, models.SeveritySuccess)
	stderr := newLineWriter(out, models.SeverityError)

	cmd := NewJobCmd(spec.Dir, spec.Run, spec.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// grandchildren holding the pipes must not stall the exit monitor forever
	cmd.WaitDelay = s.grace

	if err := cmd.Start(); err != nil {
		out.close()
		return nil, fmt.Errorf("%w: %v", ErrProcessLaunchFailed, err)
	}

	h := &Handle{
		Identity:  spec.Identity,
		PID:       cmd.Process.Pid,
		WorkDir:   spec.Dir,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	s.handles[spec.Identity] = h
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"bot": spec.Identity, "pid": h.PID}).Info("process started")

	go s.monitor(h, out, stdout, stderr)
	return h, nil
}

func (s *Supervisor) reserve(identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.handles[identity]; ok {
		return fmt.Errorf("%w: %s is running", ErrBusy, identity)
	}
	if _, ok := s.pending[identity]; ok {
		return fmt.Errorf("%w: %s is starting", ErrBusy, identity)
	}
	s.pending[identity] = struct{}{}
	return nil
}

func (s *Supervisor) release(identity string) {
	s.mu.Lock()
	delete(s.pending, identity)
	s.mu.Unlock()
}

func (s *Supervisor) install(ctx context.Context, spec StartSpec) error {
	out := newPump(spec.Identity, s.pub)
	stdout := newLineWriter(out, models.SeveritySuccess)
	stderr := newLineWriter(out, models.SeverityError)

	cmd := NewJobCmd(spec.Dir, spec.Install, spec.Env)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = s.grace

	if err := cmd.Start(); err != nil {
		out.close()
		return fmt.Errorf("%w: %v", ErrProcessLaunchFailed, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var err error
	select {
	case err = <-waitCh:
	case <-ctx.Done():
		cmd.Kill()
		err = <-waitCh
		if err == nil {
			err = ctx.Err()
		}
	}

	stdout.flush()
	stderr.flush()
	out.close()
	cmd.Release()

	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: exit code %d", ErrInstallFailed, exitErr.ExitCode())
	}
	return fmt.Errorf("%w: %v", ErrInstallFailed, err)
}

// monitor waits for h to exit and retires it.
func (s *Supervisor) monitor(h *Handle, out *pump, stdout, stderr *lineWriter) {
	waitErr := h.cmd.Wait()
	stdout.flush()
	stderr.flush()

	ev := ExitEvent{
		Identity: h.Identity,
		PID:      h.PID,
		ExitCode: -1,
		At:       time.Now(),
	}
	if state := h.cmd.ProcessState; state != nil {
		ev.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			ev.Signal = ws.Signal().String()
		}
	} else {
		ev.Err = waitErr
	}

	s.mu.Lock()
	// a superseded handle must never clear its successor
	if s.handles[h.Identity] == h {
		delete(s.handles, h.Identity)
	}
	ev.Stopped = h.stopping
	listeners := append([]func(ExitEvent){}, s.listeners...)
	s.mu.Unlock()

	out.push(models.SeveritySystem, exitMessage(ev))
	out.close()
	h.cmd.Release()
	close(h.done)

	s.log.WithFields(logrus.Fields{"bot": h.Identity, "pid": h.PID, "code": ev.ExitCode}).Info("process exited")

	for _, fn := range listeners {
		fn(ev)
	}
}

func exitMessage(ev ExitEvent) string {
	if ev.Signal != "" {
		return fmt.Sprintf("Process terminated (Exit Code: %d, Signal: %s)", ev.ExitCode, ev.Signal)
	}
	return fmt.Sprintf("Process terminated (Exit Code: %d)", ev.ExitCode)
}

// Stop terminates the identity's process group: SIGTERM, then SIGKILL after
// the grace period. It returns false only when nothing was running.
func (s *Supervisor) Stop(identity string) bool {
	s.mu.Lock()
	h := s.handles[identity]
	if h == nil {
		s.mu.Unlock()
		return false
	}
	already := h.stopping
	h.stopping = true
	s.mu.Unlock()

	entry := s.log.WithFields(logrus.Fields{"bot": identity, "pid": h.PID})

	if already {
		s.await(h, 2*s.grace)
		return true
	}

	s.pub.Publish(identity, models.SeveritySystem, fmt.Sprintf("Stopping instance (PID: %d)...", h.PID))
	if err := h.cmd.Terminate(); err != nil {
		entry.WithError(err).Debug("terminate failed")
	}
	if s.await(h, s.grace) {
		return true
	}

	s.pub.Publish(identity, models.SeverityError, "Process hung. Force killing (SIGKILL)...")
	if err := h.cmd.Kill(); err != nil {
		entry.WithError(err).Debug("kill failed")
	}
	if s.await(h, s.grace) {
		return true
	}

	entry.Warn("exit not observed after SIGKILL, forgetting handle")
	s.forget(h)
	return true
}

func (s *Supervisor) await(h *Handle, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

func (s *Supervisor) forget(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[h.Identity] == h {
		delete(s.handles, h.Identity)
	}
}

// Handle returns the live handle for identity, or nil.
func (s *Supervisor) Handle(identity string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[identity]
}

// Stopping reports whether identity's handle is being torn down.
func (s *Supervisor) Stopping(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.handles[identity]
	return h != nil && h.stopping
}

// Running returns a snapshot of all live handles.
func (s *Supervisor) Running() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		list = append(list, h)
	}
	return list
}

// Shutdown refuses new starts and stops every live process.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ids := make([]string, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.Stop(id)
		}(id)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
