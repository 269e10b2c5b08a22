package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/rollcall/internal/ledger"
	"github.com/roach88/rollcall/internal/metrics"
)

// ErrSaturated is returned by Notify when every worker slot is busy and
// the batch was dropped.
var ErrSaturated = errors.New("notification workers saturated")

// Routes picks the sender for an alliance. A nil Sender means the
// alliance has no webhook configured.
type Routes func(allianceID string) Sender

// Dispatcher delivers notice batches in the background. At most
// concurrency batches are in flight; a batch arriving while all slots are
// taken is dropped. Messages of one batch are posted in order.
type Dispatcher struct {
	routes  Routes
	sem     chan struct{}
	wg      sync.WaitGroup
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher. concurrency below 1 is treated as 1.
func NewDispatcher(routes Routes, concurrency int, m *metrics.Metrics) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Dispatcher{
		routes:  routes,
		sem:     make(chan struct{}, concurrency),
		timeout: 2 * time.Minute,
		metrics: m,
	}
}

// Notify schedules batch for delivery and returns without waiting for it.
func (d *Dispatcher) Notify(ctx context.Context, batch []ledger.Notice) error {
	if len(batch) == 0 {
		return nil
	}
	allianceID := batch[0].AllianceID
	sender := d.routes(allianceID)
	if sender == nil {
		slog.Debug("no webhook configured, skipping notifications", "alliance", allianceID, "events", len(batch))
		d.metrics.Notification("skipped")
		return nil
	}

	select {
	case d.sem <- struct{}{}:
	default:
		d.metrics.Notification("dropped")
		return ErrSaturated
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		d.deliver(ctx, sender, batch)
	}()
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, sender Sender, batch []ledger.Notice) {
	failed := 0
	for _, n := range batch {
		if err := sender.Post(ctx, Message(n)); err != nil {
			failed++
			slog.Warn("notification failed",
				"alliance", n.AllianceID,
				"member", n.Name,
				"event", n.Event.Kind(),
				"error", err,
			)
		}
	}
	if failed > 0 {
		d.metrics.Notification("failed")
		return
	}
	d.metrics.Notification("sent")
}

// Wait blocks until in-flight batches finish or timeout elapses. It
// reports whether everything finished.
func (d *Dispatcher) Wait(timeout time.Duration) bool {
	ch := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// StaticRoutes returns Routes that build one Webhook per distinct URL.
// urlFor maps an alliance to its webhook URL; an empty URL means none.
func StaticRoutes(urlFor func(allianceID string) string, opts ...WebhookOption) Routes {
	var (
		mu    sync.Mutex
		hooks = map[string]*Webhook{}
	)
	return func(allianceID string) Sender {
		url := urlFor(allianceID)
		if url == "" {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		w, ok := hooks[url]
		if !ok {
			w = NewWebhook(url, opts...)
			hooks[url] = w
		}
		return w
	}
}
