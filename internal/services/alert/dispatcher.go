package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vadiminshakov/vigil/internal/domain"
	"github.com/vadiminshakov/vigil/pkg/retrier"
	"go.uber.org/zap"
)

const (
	maxDeliveryAttempts = 3
	alertTTL            = 24 * time.Hour
	queueCapacity       = 256
	failedListCapacity  = 100
)

// Channel delivers a rendered alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, candidate domain.AlertCandidate) error
}

// Route binds a channel to the alerts it should carry. A zero MinPriority and
// empty Categories means the channel receives everything.
type Route struct {
	Channel     Channel
	MinPriority domain.AlertPriority
	Categories  []domain.AlertCategory
}

func (r Route) accepts(candidate domain.AlertCandidate) bool {
	if candidate.Priority < r.MinPriority {
		return false
	}
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c == candidate.Category {
			return true
		}
	}
	return false
}

// FailedDelivery is a permanently undeliverable alert kept for inspection.
type FailedDelivery struct {
	Candidate domain.AlertCandidate `json:"candidate"`
	Channels  []string              `json:"channels"`
	LastError string                `json:"last_error"`
	FailedAt  time.Time             `json:"failed_at"`
}

type queuedAlert struct {
	candidate domain.AlertCandidate
	// remaining holds the routes still owed a delivery. Partial success
	// requeues only the failed ones.
	remaining []Route
	attempts  int
}

// Dispatcher drains the alert queue in the background and delivers each
// accepted alert on every matching channel. Channel failures are independent;
// an alert is requeued until all its channels succeed or the attempt cap is
// reached.
type Dispatcher struct {
	routes  []Route
	queue   chan queuedAlert
	retrier *retrier.Retrier

	mu     sync.Mutex
	failed []FailedDelivery

	stats  *Stats
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher over the given channel routes.
func NewDispatcher(routes []Route, stats *Stats, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		routes: routes,
		queue:  make(chan queuedAlert, queueCapacity),
		stats:  stats,
		logger: logger,
		now:    time.Now,
	}
	d.retrier = retrier.New(retrier.WithOnRetry(func(attempt int, err error) {
		logger.Warn("channel delivery retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}))
	return d
}

// Enqueue schedules an accepted alert for delivery. A full queue records a
// failure instead of blocking the caller.
func (d *Dispatcher) Enqueue(candidate domain.AlertCandidate) {
	routes := d.routesFor(candidate)
	if len(routes) == 0 {
		d.logger.Warn("no channel configured for alert",
			zap.String("symbol", candidate.Symbol),
			zap.String("category", string(candidate.Category)))
		return
	}

	item := queuedAlert{candidate: candidate, remaining: routes}
	select {
	case d.queue <- item:
	default:
		d.stats.DeliveryFailures.Add(1)
		d.recordFailed(item, "delivery queue full")
	}
}

// Run drains the queue until ctx is cancelled. The in-flight delivery is
// allowed to finish; queued alerts are abandoned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("alert dispatcher started", zap.Int("channels", len(d.routes)))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("alert dispatcher stopped")
			return
		case item := <-d.queue:
			d.deliver(ctx, item)
		}
	}
}

// FailedDeliveries returns a copy of the permanently failed alerts.
func (d *Dispatcher) FailedDeliveries() []FailedDelivery {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]FailedDelivery, len(d.failed))
	copy(out, d.failed)
	return out
}

func (d *Dispatcher) routesFor(candidate domain.AlertCandidate) []Route {
	var routes []Route
	for _, r := range d.routes {
		if r.accepts(candidate) {
			routes = append(routes, r)
		}
	}
	return routes
}

func (d *Dispatcher) deliver(ctx context.Context, item queuedAlert) {
	if d.now().Sub(item.candidate.CreatedAt) > alertTTL {
		d.logger.Warn("alert expired before delivery",
			zap.String("symbol", item.candidate.Symbol),
			zap.String("category", string(item.candidate.Category)))
		return
	}

	item.attempts++

	var failedRoutes []Route
	var lastErr error
	for _, route := range item.remaining {
		err := d.retrier.Do(ctx, func(ctx context.Context) error {
			return route.Channel.Send(ctx, item.candidate)
		})
		if err != nil {
			d.logger.Error("channel delivery failed",
				zap.String("channel", route.Channel.Name()),
				zap.String("symbol", item.candidate.Symbol),
				zap.Int("delivery_attempt", item.attempts),
				zap.Error(err))
			failedRoutes = append(failedRoutes, route)
			lastErr = err
			continue
		}
		d.logger.Info("alert delivered",
			zap.String("channel", route.Channel.Name()),
			zap.String("symbol", item.candidate.Symbol),
			zap.String("category", string(item.candidate.Category)))
	}

	if len(failedRoutes) == 0 {
		d.stats.SentSuccessfully.Add(1)
		return
	}
	if ctx.Err() != nil {
		return
	}

	item.remaining = failedRoutes
	if item.attempts >= maxDeliveryAttempts {
		d.stats.DeliveryFailures.Add(1)
		d.recordFailed(item, lastErr.Error())
		return
	}

	select {
	case d.queue <- item:
	default:
		d.stats.DeliveryFailures.Add(1)
		d.recordFailed(item, "delivery queue full on requeue")
	}
}

func (d *Dispatcher) recordFailed(item queuedAlert, reason string) {
	names := make([]string, 0, len(item.remaining))
	for _, r := range item.remaining {
		names = append(names, r.Channel.Name())
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.failed = append(d.failed, FailedDelivery{
		Candidate: item.candidate,
		Channels:  names,
		LastError: reason,
		FailedAt:  d.now(),
	})
	if len(d.failed) > failedListCapacity {
		d.failed = d.failed[len(d.failed)-failedListCapacity:]
	}

	d.logger.Error("alert permanently failed",
		zap.String("symbol", item.candidate.Symbol),
		zap.String("channels", strings.Join(names, ",")),
		zap.String("reason", reason))
}
