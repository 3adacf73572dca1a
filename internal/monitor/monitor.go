// Package monitor subscribes to every watched account over one websocket
// session at a time and reconnects forever with exponential backoff.
package monitor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"sol-outflow-alerts/internal/metrics"
	"sol-outflow-alerts/internal/stream"
)

// Dialer opens a fresh transport for each session.
type Dialer interface {
	Dial(ctx context.Context) (stream.Conn, error)
}

// Monitor ties the dialer, session options and alert sink together.
type Monitor struct {
	dialer  Dialer
	opts    SessionOptions
	sink    AlertSink
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New constructs a Monitor.
func New(dialer Dialer, opts SessionOptions, sink AlertSink, m *metrics.Metrics, logger zerolog.Logger) *Monitor {
	return &Monitor{
		dialer:  dialer,
		opts:    opts,
		sink:    sink,
		metrics: m,
		logger:  logger.With().Str("component", "monitor").Logger(),
	}
}

// RunSession dials and runs a single session. It satisfies SessionFunc.
func (m *Monitor) RunSession(ctx context.Context, active func()) error {
	conn, err := m.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	session := NewSession(conn, m.opts, m.sink, m.metrics, m.logger)
	session.onActive = active
	return session.Run(ctx)
}

// Supervise runs sessions under a Supervisor until ctx is cancelled.
func (m *Monitor) Supervise(ctx context.Context, opts SupervisorOptions) error {
	m.logger.Info().Int("accounts", len(m.opts.Accounts)).
		Int64("threshold_lamports", m.opts.Policy.ThresholdLamports).
		Msg("starting account monitor")
	return NewSupervisor(m.RunSession, opts, m.metrics, m.logger).Run(ctx)
}

var _ Dialer = (*stream.Dialer)(nil)
