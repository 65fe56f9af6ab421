package hub

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"botcloud/internal/db"
	"botcloud/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySubscriber struct {
	id   string
	fail bool

	mu    sync.Mutex
	lines []models.LogLine
}

func (s *memorySubscriber) ID() string { return s.id }

func (s *memorySubscriber) Deliver(line models.LogLine) error {
	if s.fail {
		return errors.New("queue full")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *memorySubscriber) received() []models.LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LogLine(nil), s.lines...)
}

type brokenStore struct{}

func (brokenStore) AppendLog(context.Context, *models.LogLine) error {
	return errors.New("disk full")
}

func (brokenStore) RecentLogs(context.Context, string, int) ([]models.LogLine, error) {
	return nil, errors.New("disk full")
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func messages(lines []models.LogLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Message)
	}
	return out
}

func TestPublishPersistsAndDeliversInOrder(t *testing.T) {
	h := newTestHub(t)
	sub := &memorySubscriber{id: "s1"}
	require.NoError(t, h.Attach("alpha", sub, nil))

	for i := 0; i < 50; i++ {
		h.Publish("alpha", models.SeveritySystem, fmt.Sprintf("line %d", i))
	}

	got := sub.received()
	require.Len(t, got, 50)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].ID, got[i].ID)
	}

	history, err := h.History(context.Background(), "alpha", 1000)
	require.NoError(t, err)
	assert.Equal(t, messages(got), messages(history))
}

func TestIdentitiesAreIsolated(t *testing.T) {
	h := newTestHub(t)
	a := &memorySubscriber{id: "a"}
	require.NoError(t, h.Attach("alpha", a, nil))

	h.Publish("beta", models.SeverityError, "not for alpha")
	h.Publish("alpha", models.SeveritySuccess, "for alpha")

	assert.Equal(t, []string{"for alpha"}, messages(a.received()))
}

func TestAttachReplayHandover(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	h.Publish("alpha", models.SeveritySystem, "L1")
	h.Publish("alpha", models.SeveritySystem, "L2")

	sub := &memorySubscriber{id: "s1"}
	var replayed []models.LogLine
	require.NoError(t, h.Attach("alpha", sub, func() error {
		var err error
		replayed, err = h.History(ctx, "alpha", 1000)
		return err
	}))

	h.Publish("alpha", models.SeveritySystem, "L3")

	assert.Equal(t, []string{"L1", "L2"}, messages(replayed))
	assert.Equal(t, []string{"L3"}, messages(sub.received()))
}

func TestAttachDuringConcurrentPublishSeesEveryLineOnce(t *testing.T) {
	h := newTestHub(t)
	ctx := context.Background()

	const total = 300
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			if i == 20 {
				close(started)
			}
			h.Publish("alpha", models.SeveritySystem, fmt.Sprintf("line %d", i))
		}
	}()

	<-started
	sub := &memorySubscriber{id: "late"}
	var replayed []models.LogLine
	require.NoError(t, h.Attach("alpha", sub, func() error {
		var err error
		replayed, err = h.History(ctx, "alpha", 1000)
		return err
	}))
	wg.Wait()

	seen := append(messages(replayed), messages(sub.received())...)
	history, err := h.History(ctx, "alpha", 1000)
	require.NoError(t, err)
	assert.Equal(t, messages(history), seen)
	assert.Len(t, seen, total)
}

func TestFailingSubscriberIsDetached(t *testing.T) {
	h := newTestHub(t)
	bad := &memorySubscriber{id: "bad", fail: true}
	good := &memorySubscriber{id: "good"}
	require.NoError(t, h.Attach("alpha", bad, nil))
	require.NoError(t, h.Attach("alpha", good, nil))
	assert.Equal(t, 2, h.Subscribers("alpha"))

	h.Publish("alpha", models.SeveritySystem, "first")
	assert.Equal(t, 1, h.Subscribers("alpha"))

	h.Publish("alpha", models.SeveritySystem, "second")
	assert.Equal(t, []string{"first", "second"}, messages(good.received()))
}

func TestAttachReplayErrorAborts(t *testing.T) {
	h := newTestHub(t)
	sub := &memorySubscriber{id: "s1"}

	err := h.Attach("alpha", sub, func() error { return errors.New("socket closed") })
	assert.Error(t, err)
	assert.Zero(t, h.Subscribers("alpha"))
}

func TestDetach(t *testing.T) {
	h := newTestHub(t)
	sub := &memorySubscriber{id: "s1"}
	require.NoError(t, h.Attach("alpha", sub, nil))

	h.Detach("alpha", sub)
	h.Detach("alpha", sub)
	h.Publish("alpha", models.SeveritySystem, "after detach")

	assert.Empty(t, sub.received())
}

func TestStoreFailureStillDelivers(t *testing.T) {
	h := New(brokenStore{})
	sub := &memorySubscriber{id: "s1"}
	require.NoError(t, h.Attach("alpha", sub, nil))

	h.Publish("alpha", models.SeverityError, "still live")
	assert.Equal(t, []string{"still live"}, messages(sub.received()))
}
