package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"purrcast/internal/observability"
)

type dispatchCall struct {
	url    string
	postID uint
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (r *recordingDispatcher) Dispatch(_ context.Context, imageURL string, postID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dispatchCall{imageURL, postID})
}

func (r *recordingDispatcher) recorded() []dispatchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatchCall(nil), r.calls...)
}

func TestPendingSweeper_SweepOnceWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	store := newMemStore()

	add := func(age time.Duration, classified bool) uint {
		p := visible(1, 5)
		p.CreatedAt = clock.Now().Add(-age)
		if classified {
			v := false
			p.IsCatOnHead = &v
		}
		return store.addPost(p)
	}
	add(5*time.Minute, false)
	stale := add(time.Hour, false)
	add(time.Hour, true)
	add(72*time.Hour, false)

	disp := &recordingDispatcher{}
	m := observability.NewMetricsForTesting()
	s := NewPendingSweeper(NewPostService(store, store, testLog), disp,
		SweeperConfig{Interval: time.Minute, MinAge: 15 * time.Minute, MaxAge: 48 * time.Hour},
		clock, testLog, m)

	n, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, disp.recorded(), 1)
	assert.Equal(t, stale, disp.recorded()[0].postID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRedispatched))
}

func TestPendingSweeper_RunTicks(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	store := newMemStore()
	p := visible(1, 5)
	p.CreatedAt = clock.Now().Add(-time.Hour)
	store.addPost(p)

	disp := &recordingDispatcher{}
	s := NewPendingSweeper(NewPostService(store, store, testLog), disp,
		SweeperConfig{Interval: time.Minute, MinAge: 15 * time.Minute, MaxAge: 48 * time.Hour},
		clock, testLog, observability.NewMetricsForTesting())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(disp.recorded()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

var _ PendingLister = (*PostService)(nil)
