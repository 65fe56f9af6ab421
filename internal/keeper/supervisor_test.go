//go:build !windows

package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"botcloud/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	lines []models.LogLine
}

func (p *recordingPublisher) Publish(identity string, sev models.Severity, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, models.NewLogLine(identity, sev, message))
}

func (p *recordingPublisher) snapshot() []models.LogLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.LogLine(nil), p.lines...)
}

func (p *recordingPublisher) has(sev models.Severity, message string) bool {
	for _, l := range p.snapshot() {
		if l.Severity == sev && l.Message == message {
			return true
		}
	}
	return false
}

func (p *recordingPublisher) hasPrefix(prefix string) bool {
	for _, l := range p.snapshot() {
		if strings.HasPrefix(l.Message, prefix) {
			return true
		}
	}
	return false
}

func shSpec(t *testing.T, id, script string) StartSpec {
	return StartSpec{
		Identity: id,
		Dir:      t.TempDir(),
		Run:      []string{"/bin/sh", "-c", script},
	}
}

func newTestSupervisor(t *testing.T, grace time.Duration) (*Supervisor, *recordingPublisher) {
	pub := &recordingPublisher{}
	s := New(pub, grace)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, pub
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit", h.PID)
	}
}

func TestStartStreamsOrderedOutput(t *testing.T) {
	s, pub := newTestSupervisor(t, time.Second)

	h, err := s.Start(context.Background(), shSpec(t, "alpha", "for i in 1 2 3 4 5 6 7 8 9 10; do echo line $i; done; printf 'tail'"))
	require.NoError(t, err)
	assert.Greater(t, h.PID, 0)
	waitDone(t, h)

	var out []string
	for _, l := range pub.snapshot() {
		if l.Severity == models.SeveritySuccess {
			out = append(out, l.Message)
		}
	}
	expected := []string{}
	for i := 1; i <= 10; i++ {
		expected = append(expected, fmt.Sprintf("line %d", i))
	}
	expected = append(expected, "tail")
	assert.Equal(t, expected, out)

	lines := pub.snapshot()
	assert.Equal(t, "Process terminated (Exit Code: 0)", lines[len(lines)-1].Message)
	assert.Nil(t, s.Handle("alpha"))
}

func TestStderrIsError(t *testing.T) {
	s, pub := newTestSupervisor(t, time.Second)

	h, err := s.Start(context.Background(), shSpec(t, "alpha", "echo boom 1>&2"))
	require.NoError(t, err)
	waitDone(t, h)

	assert.True(t, pub.has(models.SeverityError, "boom"))
}

func TestInstallRunsBeforeLaunch(t *testing.T) {
	s, pub := newTestSupervisor(t, time.Second)

	spec := shSpec(t, "alpha", "cat installed.txt")
	spec.Install = []string{"/bin/sh", "-c", "echo ok > installed.txt; echo installing"}
	h, err := s.Start(context.Background(), spec)
	require.NoError(t, err)
	waitDone(t, h)

	assert.True(t, pub.has(models.SeveritySuccess, "installing"))
	assert.True(t, pub.has(models.SeveritySuccess, "ok"))
	assert.True(t, pub.hasPrefix("Installing dependencies ("))
	assert.True(t, pub.hasPrefix("Launching bot process ("))
}

func TestInstallFailed(t *testing.T) {
	s, pub := newTestSupervisor(t, time.Second)

	spec := shSpec(t, "alpha", "sleep 30")
	spec.Install = []string{"/bin/sh", "-c", "echo missing package 1>&2; exit 3"}
	_, err := s.Start(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInstallFailed))
	assert.Contains(t, err.Error(), "exit code 3")
	assert.True(t, pub.has(models.SeverityError, "missing package"))

	assert.Nil(t, s.Handle("alpha"))
	assert.False(t, pub.hasPrefix("Launching bot process"))

	// reservation released
	h, err := s.Start(context.Background(), shSpec(t, "alpha", "true"))
	require.NoError(t, err)
	waitDone(t, h)
}

func TestLaunchFailed(t *testing.T) {
	s, _ := newTestSupervisor(t, time.Second)

	_, err := s.Start(context.Background(), StartSpec{
		Identity: "alpha",
		Dir:      t.TempDir(),
		Run:      []string{"/nonexistent/botcloud-binary"},
	})
	assert.True(t, errors.Is(err, ErrProcessLaunchFailed))

	_, err = s.Start(context.Background(), StartSpec{Identity: "alpha", Dir: t.TempDir()})
	assert.True(t, errors.Is(err, ErrProcessLaunchFailed))
	assert.Nil(t, s.Handle("alpha"))
}

func TestStartBusy(t *testing.T) {
	s, _ := newTestSupervisor(t, time.Second)

	_, err := s.Start(context.Background(), shSpec(t, "alpha", "sleep 30"))
	require.NoError(t, err)

	_, err = s.Start(context.Background(), shSpec(t, "alpha", "sleep 30"))
	assert.True(t, errors.Is(err, ErrBusy))

	_, err = s.Start(context.Background(), shSpec(t, "beta", "sleep 30"))
	assert.NoError(t, err)
	assert.Len(t, s.Running(), 2)
}

func TestStopIdempotent(t *testing.T) {
	s, pub := newTestSupervisor(t, 2*time.Second)

	h, err := s.Start(context.Background(), shSpec(t, "alpha", "sleep 30"))
	require.NoError(t, err)

	assert.True(t, s.Stop("alpha"))
	assert.Nil(t, s.Handle("alpha"))
	assert.False(t, s.Stop("alpha"))
	assert.False(t, s.Stop("never-started"))

	waitDone(t, h)
	assert.True(t, pub.has(models.SeveritySystem, fmt.Sprintf("Stopping instance (PID: %d)...", h.PID)))
	assert.False(t, pub.has(models.SeverityError, "Process hung. Force killing (SIGKILL)..."))
}

func TestStopEscalatesToKill(t *testing.T) {
	s, pub := newTestSupervisor(t, 300*time.Millisecond)

	h, err := s.Start(context.Background(), shSpec(t, "alpha", "trap '' TERM; echo ready; while true; do sleep 0.1; done"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.has(models.SeveritySuccess, "ready") }, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	assert.True(t, s.Stop("alpha"))
	assert.Less(t, time.Since(start), 2*time.Second)

	waitDone(t, h)
	assert.True(t, pub.has(models.SeverityError, "Process hung. Force killing (SIGKILL)..."))
	assert.True(t, pub.hasPrefix("Process terminated (Exit Code: -1, Signal: killed)"))
	assert.Nil(t, s.Handle("alpha"))
}

func TestStaleExitKeepsNewHandle(t *testing.T) {
	s, _ := newTestSupervisor(t, time.Second)

	old, err := s.Start(context.Background(), shSpec(t, "alpha", "sleep 0.3"))
	require.NoError(t, err)

	// old instance gave up on after a stop timeout, a new one takes its place
	s.forget(old)
	current, err := s.Start(context.Background(), shSpec(t, "alpha", "sleep 30"))
	require.NoError(t, err)

	waitDone(t, old)
	assert.Same(t, current, s.Handle("alpha"))
}

func TestExitListener(t *testing.T) {
	s, _ := newTestSupervisor(t, time.Second)

	events := make(chan ExitEvent, 1)
	s.OnExit(func(ev ExitEvent) { events <- ev })

	h, err := s.Start(context.Background(), shSpec(t, "alpha", "exit 7"))
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "alpha", ev.Identity)
		assert.Equal(t, h.PID, ev.PID)
		assert.Equal(t, 7, ev.ExitCode)
		assert.False(t, ev.Stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("no exit event")
	}
}

func TestShutdownStopsAll(t *testing.T) {
	s, _ := newTestSupervisor(t, time.Second)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Start(context.Background(), shSpec(t, id, "sleep 30"))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Empty(t, s.Running())

	_, err := s.Start(context.Background(), shSpec(t, "d", "true"))
	assert.True(t, errors.Is(err, ErrClosed))
}
