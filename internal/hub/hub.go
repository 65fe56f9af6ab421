package hub

import (
	"context"
	"sync"

	"botcloud/internal/logger"
	"botcloud/internal/models"

	"github.com/im7mortal/kmutex"
	"github.com/sirupsen/logrus"
)

// Store is the durable sink the hub appends to before delivering.
type Store interface {
	AppendLog(ctx context.Context, line *models.LogLine) error
	RecentLogs(ctx context.Context, identity string, limit int) ([]models.LogLine, error)
}

// Subscriber is a live consumer of one identity's lines. Deliver must not
// block; an error detaches the subscriber.
type Subscriber interface {
	ID() string
	Deliver(line models.LogLine) error
}

// Hub fans out log lines per identity to the store and to live subscribers.
// Append and delivery of one identity happen under that identity's lock, so
// every subscriber sees lines in store order.
type Hub struct {
	store Store
	locks *kmutex.Kmutex
	log   *logrus.Entry

	mu   sync.Mutex
	subs map[string]map[string]Subscriber
}

func New(store Store) *Hub {
	return &Hub{
		store: store,
		locks: kmutex.New(),
		log:   logger.For("hub"),
		subs:  make(map[string]map[string]Subscriber),
	}
}

// Publish records and broadcasts a new line for identity.
func (h *Hub) Publish(identity string, sev models.Severity, message string) {
	h.PublishLine(models.NewLogLine(identity, sev, message))
}

// PublishLine records and broadcasts line, returning it with its store id.
// A store failure is logged and the line is still delivered.
func (h *Hub) PublishLine(line models.LogLine) models.LogLine {
	h.locks.Lock(line.BotID)
	defer h.locks.Unlock(line.BotID)

	if err := h.store.AppendLog(context.Background(), &line); err != nil {
		h.log.WithField("bot", line.BotID).WithError(err).Error("failed to persist log line")
	}

	for _, sub := range h.members(line.BotID) {
		if err := sub.Deliver(line); err != nil {
			h.log.WithFields(logrus.Fields{"bot": line.BotID, "subscriber": sub.ID()}).
				WithError(err).Debug("detaching subscriber")
			h.remove(line.BotID, sub.ID())
		}
	}
	return line
}

// Attach runs replay and then adds sub to identity's live set, both under
// the identity lock: no line is published between the history read and the
// subscription. A replay error aborts the attach.
func (h *Hub) Attach(identity string, sub Subscriber, replay func() error) error {
	h.locks.Lock(identity)
	defer h.locks.Unlock(identity)

	if replay != nil {
		if err := replay(); err != nil {
			return err
		}
	}

	h.mu.Lock()
	set, ok := h.subs[identity]
	if !ok {
		set = make(map[string]Subscriber)
		h.subs[identity] = set
	}
	set[sub.ID()] = sub
	h.mu.Unlock()
	return nil
}

// Detach removes sub from identity's live set. Unknown subscribers are ignored.
func (h *Hub) Detach(identity string, sub Subscriber) {
	h.locks.Lock(identity)
	defer h.locks.Unlock(identity)
	h.remove(identity, sub.ID())
}

// History returns the most recent limit lines of identity in ascending order.
func (h *Hub) History(ctx context.Context, identity string, limit int) ([]models.LogLine, error) {
	return h.store.RecentLogs(ctx, identity, limit)
}

// Subscribers returns the number of live subscribers of identity.
func (h *Hub) Subscribers(identity string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[identity])
}

func (h *Hub) members(identity string) []Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[identity]
	list := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		list = append(list, sub)
	}
	return list
}

func (h *Hub) remove(identity, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[identity]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(h.subs, identity)
	}
}
