package services

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"purrcast/internal/models"
	"purrcast/internal/observability"
)

const sweepBatchSize = 100

// PendingLister is the slice of PostService the sweeper needs.
type PendingLister interface {
	FindPendingClassification(ctx context.Context, after, before time.Time, limit int) ([]models.Post, error)
}

// JobDispatcher is the slice of Dispatcher used by callers that only enqueue.
type JobDispatcher interface {
	Dispatch(ctx context.Context, imageURL string, postID uint)
}

type SweeperConfig struct {
	Interval time.Duration
	MinAge   time.Duration
	MaxAge   time.Duration
}

// PendingSweeper periodically re-dispatches posts whose classification never
// arrived, giving prediction jobs at-least-once delivery across restarts and
// dead-lettered submissions.
type PendingSweeper struct {
	posts      PendingLister
	dispatcher JobDispatcher
	cfg        SweeperConfig
	clock      clockwork.Clock
	log        logrus.FieldLogger
	metrics    *observability.Metrics
}

func NewPendingSweeper(posts PendingLister, dispatcher JobDispatcher, cfg SweeperConfig, clock clockwork.Clock, log logrus.FieldLogger, metrics *observability.Metrics) *PendingSweeper {
	return &PendingSweeper{
		posts:      posts,
		dispatcher: dispatcher,
		cfg:        cfg,
		clock:      clock,
		log:        log.WithField("component", "sweeper"),
		metrics:    metrics,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *PendingSweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.WithError(err).Warn("pending classification sweep failed")
			}
		}
	}
}

// SweepOnce re-dispatches one batch of stale pending posts and reports how
// many were handed to the dispatcher.
func (s *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now()
	posts, err := s.posts.FindPendingClassification(ctx, now.Add(-s.cfg.MaxAge), now.Add(-s.cfg.MinAge), sweepBatchSize)
	if err != nil {
		return 0, err
	}

	for _, p := range posts {
		s.dispatcher.Dispatch(ctx, p.ContentURL, p.ID)
	}
	if n := len(posts); n > 0 {
		s.metrics.SweepRedispatched.Add(float64(n))
		s.log.WithField("count", n).Info("re-dispatched pending posts")
	}
	return len(posts), nil
}
