package expiry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"botcloud/internal/db"
	"botcloud/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStopper struct {
	mu      sync.Mutex
	running map[string]bool
	stopped []string
}

func (f *fakeStopper) RequestStop(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	was := f.running[id]
	delete(f.running, id)
	return was
}

type fakePublisher struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (f *fakePublisher) Publish(id string, _ models.Severity, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lines == nil {
		f.lines = make(map[string][]string)
	}
	f.lines[id] = append(f.lines[id], msg)
}

func TestSweepStopsDueBots(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "expiry.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.SetExpiry(ctx, "due-running", now.Add(-time.Minute)))
	require.NoError(t, store.SetExpiry(ctx, "due-stopped", now.Add(-time.Hour)))
	require.NoError(t, store.SetExpiry(ctx, "later", now.Add(time.Hour)))

	stopper := &fakeStopper{running: map[string]bool{"due-running": true, "later": true}}
	pub := &fakePublisher{}
	s := New(store, stopper, pub, time.Hour)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"due-running", "due-stopped"}, stopper.stopped)
	assert.Equal(t, []string{"Hosting period expired. Bot stopped."}, pub.lines["due-running"])
	assert.Equal(t, []string{"Hosting period expired."}, pub.lines["due-stopped"])

	bot, err := store.GetBot(ctx, "due-running")
	require.NoError(t, err)
	require.NotNil(t, bot)
	assert.True(t, bot.Expired)

	// already expired bots are not swept again
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// the clock moves past the remaining expiry
	s.now = func() time.Time { return now.Add(2 * time.Hour) }
	n, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, stopper.stopped, "later")
}

func TestRunStopsWithContext(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "expiry.db"))
	require.NoError(t, err)
	defer store.Close()

	s := New(store, &fakeStopper{}, &fakePublisher{}, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
