package expiry

import (
	"context"
	"time"

	"botcloud/internal/logger"
	"botcloud/internal/models"

	"github.com/sirupsen/logrus"
)

// Store exposes the TTL data of bot records.
type Store interface {
	ListDue(ctx context.Context, now time.Time) ([]string, error)
	MarkExpired(ctx context.Context, botID string) error
}

// Stopper stops a bot through the orchestrator.
type Stopper interface {
	RequestStop(ctx context.Context, identity string) bool
}

// Publisher records the expiry in the bot's log.
type Publisher interface {
	Publish(identity string, sev models.Severity, message string)
}

// Sweeper periodically stops bots whose expiry has passed and marks them
// EXPIRED. The artifact is kept so a renewed bot can be restarted.
type Sweeper struct {
	store    Store
	stopper  Stopper
	pub      Publisher
	interval time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

func New(store Store, stopper Stopper, pub Publisher, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		stopper:  stopper,
		pub:      pub,
		interval: interval,
		now:      time.Now,
		log:      logger.For("expiry"),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if n, err := s.Sweep(ctx); err != nil {
			s.log.WithError(err).Warn("expiry sweep failed")
		} else if n > 0 {
			s.log.Infof("expired %d bot(s)", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires every due bot and returns how many were handled.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.ListDue(ctx, s.now())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range due {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		stopped := s.stopper.RequestStop(ctx, id)
		if err := s.store.MarkExpired(ctx, id); err != nil {
			s.log.WithField("bot", id).WithError(err).Warn("failed to mark bot expired")
			continue
		}
		if stopped {
			s.pub.Publish(id, models.SeveritySystem, "Hosting period expired. Bot stopped.")
		} else {
			s.pub.Publish(id, models.SeveritySystem, "Hosting period expired.")
		}
		n++
	}
	return n, nil
}
