package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sol-outflow-alerts/internal/metrics"
)

// DispatcherOptions tune asynchronous delivery.
type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

// Dispatcher decouples alert delivery from frame consumption: Enqueue never
// blocks, and each delivery is bounded by SendTimeout. Failed deliveries are
// logged and not retried.
type Dispatcher struct {
	notifier Notifier
	queue    chan Alert
	workers  int
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	// stopped is set once the final flush begins; later alerts are rejected.
	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher constructs a dispatcher around notifier.
func NewDispatcher(notifier Notifier, opts DispatcherOptions, m *metrics.Metrics, logger zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}

	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan Alert, opts.QueueSize),
		workers:  opts.Workers,
		timeout:  opts.SendTimeout,
		metrics:  m,
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Enqueue hands the alert to the delivery workers. It reports false, after
// logging, when the queue is full or the dispatcher has stopped.
func (d *Dispatcher) Enqueue(alert Alert) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.metrics.Alert("dropped")
		d.logger.Error().Str("account", alert.Account).
			Str("sent_sol", alert.SentSOL()).
			Msg("alert dispatcher stopped; alert dropped")
		return false
	}

	select {
	case d.queue <- alert:
		return true
	default:
		d.metrics.Alert("dropped")
		d.logger.Error().Str("account", alert.Account).
			Str("sent_sol", alert.SentSOL()).
			Int("queue_size", cap(d.queue)).
			Msg("alert queue full; alert dropped")
		return false
	}
}

// Run delivers queued alerts until ctx is cancelled, then flushes whatever is
// still buffered with a fresh timeout per alert.
func (d *Dispatcher) Run(ctx context.Context) error {
	done := make(chan struct{})
	for i := 0; i < d.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			d.work(ctx)
		}()
	}
	for i := 0; i < d.workers; i++ {
		<-done
	}

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.flush()
	return ctx.Err()
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-d.queue:
			d.deliver(ctx, alert)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case alert := <-d.queue:
			d.deliver(context.Background(), alert)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(parent context.Context, alert Alert) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	if d.notifier == nil {
		d.metrics.Alert("failed")
		d.logger.Error().Str("account", alert.Account).Msg("no alert channel configured")
		return
	}

	if err := d.notifier.Notify(ctx, alert); err != nil {
		d.metrics.Alert("failed")
		d.logger.Error().Err(err).
			Str("account", alert.Account).
			Str("sent_sol", alert.SentSOL()).
			Msg("failed to dispatch alert")
		return
	}
	d.metrics.Alert("delivered")
}
