package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/pkg/retrier"
	"go.uber.org/zap"
)

type fakeChannel struct {
	mu    sync.Mutex
	name  string
	fail  bool
	sends []domain.AlertCandidate
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, candidate domain.AlertCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("channel unavailable")
	}
	c.sends = append(c.sends, candidate)
	return nil
}

func (c *fakeChannel) sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

func newTestDispatcher(routes []Route) (*Dispatcher, *Stats) {
	stats := NewStats()
	d := NewDispatcher(routes, stats, zap.NewNop())
	// no backoff in tests
	d.retrier = retrier.New(retrier.WithMaxRetries(0), retrier.WithInitialInterval(time.Millisecond))
	return d, stats
}

func testCandidate(symbol string, priority domain.AlertPriority) domain.AlertCandidate {
	return domain.AlertCandidate{
		ID:        "test",
		Symbol:    symbol,
		Category:  domain.AlertCategorySignal,
		Priority:  priority,
		CreatedAt: time.Now(),
		Message:   "msg",
	}
}

func TestDispatcher_DeliversToAllChannels(t *testing.T) {
	first := &fakeChannel{name: "first"}
	second := &fakeChannel{name: "second"}
	d, stats := newTestDispatcher([]Route{{Channel: first}, {Channel: second}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(testCandidate("RELIANCE", domain.PriorityHigh))

	assert.Eventually(t, func() bool {
		return first.sent() == 1 && second.sent() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return stats.SentSuccessfully.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatcher_PartialFailureRetriesOnlyFailedChannel(t *testing.T) {
	good := &fakeChannel{name: "good"}
	bad := &fakeChannel{name: "bad", fail: true}
	d, stats := newTestDispatcher([]Route{{Channel: good}, {Channel: bad}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(testCandidate("RELIANCE", domain.PriorityHigh))

	assert.Eventually(t, func() bool {
		return stats.DeliveryFailures.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// the healthy channel is not re-sent on requeue
	assert.Equal(t, 1, good.sent())

	failed := d.FailedDeliveries()
	require.Len(t, failed, 1)
	assert.Equal(t, []string{"bad"}, failed[0].Channels)
	assert.Equal(t, "RELIANCE", failed[0].Candidate.Symbol)
}

func TestDispatcher_RouteFiltersByPriorityAndCategory(t *testing.T) {
	critical := &fakeChannel{name: "critical-only"}
	everything := &fakeChannel{name: "everything"}
	d, _ := newTestDispatcher([]Route{
		{Channel: critical, MinPriority: domain.PriorityCritical},
		{Channel: everything},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(testCandidate("RELIANCE", domain.PriorityNormal))

	assert.Eventually(t, func() bool {
		return everything.sent() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, critical.sent())
}

func TestDispatcher_ExpiredAlertDropped(t *testing.T) {
	ch := &fakeChannel{name: "ch"}
	d, stats := newTestDispatcher([]Route{{Channel: ch}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	stale := testCandidate("RELIANCE", domain.PriorityHigh)
	stale.CreatedAt = time.Now().Add(-25 * time.Hour)
	d.Enqueue(stale)

	fresh := testCandidate("TCS", domain.PriorityHigh)
	d.Enqueue(fresh)

	assert.Eventually(t, func() bool {
		return ch.sent() == 1
	}, time.Second, 10*time.Millisecond)

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Equal(t, "TCS", ch.sends[0].Symbol)
	assert.Equal(t, int64(1), stats.SentSuccessfully.Load())
}

func TestDispatcher_GracefulShutdown(t *testing.T) {
	ch := &fakeChannel{name: "ch"}
	d, _ := newTestDispatcher([]Route{{Channel: ch}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
