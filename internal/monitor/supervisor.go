package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sol-outflow-alerts/internal/metrics"
)

// State is a ReconnectSupervisor state.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
	StateError
	StateBackoff
)

var stateNames = []string{"connecting", "active", "closed", "error", "backoff"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// SessionFunc runs one connection attempt to completion. It must call active
// once the subscribe handshake succeeded; a nil return is a clean end.
type SessionFunc func(ctx context.Context, active func()) error

// SupervisorOptions tune reconnection.
type SupervisorOptions struct {
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	// StableAfter resets the backoff when a failed session had been active at least this long.
	StableAfter time.Duration
}

// Supervisor drives sessions forever: Connecting → Active → Closed|Error →
// Backoff → Connecting. It never gives up; only ctx cancellation stops it.
type Supervisor struct {
	session SessionFunc
	opts    SupervisorOptions
	backoff *Backoff
	metrics *metrics.Metrics
	logger  zerolog.Logger

	state State
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// NewSupervisor constructs a Supervisor around session.
func NewSupervisor(session SessionFunc, opts SupervisorOptions, m *metrics.Metrics, logger zerolog.Logger) *Supervisor {
	if opts.BackoffFloor <= 0 {
		opts.BackoffFloor = defaultBackoffFloor
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = defaultBackoffCeiling
	}
	return &Supervisor{
		session: session,
		opts:    opts,
		backoff: NewBackoff(opts.BackoffFloor, opts.BackoffCeiling),
		metrics: m,
		logger:  logger.With().Str("component", "supervisor").Logger(),
		state:   StateConnecting,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.transition(StateConnecting)
		var activeSince time.Time
		err := s.session(ctx, func() {
			activeSince = s.now()
			s.transition(StateActive)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			s.transition(StateClosed)
			s.metrics.SessionEnded("clean")
			s.backoff.Reset()
			s.metrics.Backoff(s.backoff.Current())
			s.logger.Info().Msg("session ended cleanly; reconnecting")
			continue
		}

		s.transition(StateError)
		s.metrics.SessionEnded("error")
		if s.opts.StableAfter > 0 && !activeSince.IsZero() && s.now().Sub(activeSince) >= s.opts.StableAfter {
			s.backoff.Reset()
		}

		delay := s.backoff.Next()
		s.metrics.Backoff(delay)
		s.transition(StateBackoff)
		s.logger.Error().Err(err).Dur("backoff", delay).Msg("session failed; reconnecting after backoff")

		if err := s.sleep(ctx, delay); err != nil {
			return ctx.Err()
		}
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state
}

func (s *Supervisor) transition(to State) {
	from := s.state
	s.state = to
	s.metrics.State(to.String(), stateNames)
	s.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("state transition")
	if s.OnTransition != nil {
		s.OnTransition(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
