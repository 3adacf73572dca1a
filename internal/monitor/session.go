package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"sol-outflow-alerts/internal/alerting"
	"sol-outflow-alerts/internal/ledger"
	"sol-outflow-alerts/internal/metrics"
	"sol-outflow-alerts/internal/stream"
)

// ErrAckTimeout is returned when a subscribe acknowledgement does not arrive in time.
var ErrAckTimeout = errors.New("subscribe acknowledgement timed out")

// SubscribeError reports a failed subscribe handshake for one account.
type SubscribeError struct {
	Account string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Account, e.Err)
}

func (e *SubscribeError) Unwrap() error {
	return e.Err
}

// AlertSink receives alert-worthy movements. Implementations must not block.
type AlertSink interface {
	Enqueue(alert alerting.Alert) bool
}

// SessionOptions are shared by every session the monitor starts.
type SessionOptions struct {
	Accounts     []string
	Policy       ledger.Policy
	Subscribe    stream.SubscribeOptions
	AckTimeout   time.Duration
	ExplorerBase string
}

// Session owns one connection from subscribe handshake to termination. Its
// registry and ledger live exactly as long as the connection.
type Session struct {
	conn     stream.Conn
	opts     SessionOptions
	registry *stream.Registry
	ledger   *ledger.Ledger
	sink     AlertSink
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time

	// notifications read while still waiting for acknowledgements
	pending []stream.Frame

	onActive func()
}

// NewSession prepares a session on an already established connection.
func NewSession(conn stream.Conn, opts SessionOptions, sink AlertSink, m *metrics.Metrics, logger zerolog.Logger) *Session {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	return &Session{
		conn:     conn,
		opts:     opts,
		registry: stream.NewRegistry(),
		ledger:   ledger.New(),
		sink:     sink,
		metrics:  m,
		logger:   logger.With().Str("component", "session").Logger(),
		now:      time.Now,
	}
}

// Run subscribes every account and then consumes notifications until the
// connection ends. A clean remote close or ctx cancellation returns nil.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	if err := s.subscribe(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	s.metrics.Subscriptions(s.registry.Len())
	defer s.metrics.Subscriptions(0)
	s.logger.Info().Int("accounts", s.registry.Len()).Msg("subscribed to watched accounts")
	if s.onActive != nil {
		s.onActive()
	}

	return s.listen(ctx)
}

func (s *Session) subscribe() error {
	for i, account := range s.opts.Accounts {
		id := uint64(i + 1)
		req := stream.NewAccountSubscribe(id, account, s.opts.Subscribe)
		if err := s.conn.WriteJSON(req); err != nil {
			return &SubscribeError{Account: account, Err: fmt.Errorf("send request: %w", err)}
		}

		subID, err := s.awaitAck(id)
		if err != nil {
			return &SubscribeError{Account: account, Err: err}
		}

		s.registry.Register(subID, account)
		s.ledger.Track(account)
		s.logger.Debug().Str("account", account).Str("subscription", string(subID)).Msg("subscription acknowledged")
	}
	return nil
}

func (s *Session) awaitAck(id uint64) (stream.SubscriptionID, error) {
	var timedOut atomic.Bool
	timer := time.AfterFunc(s.opts.AckTimeout, func() {
		timedOut.Store(true)
		_ = s.conn.Close()
	})
	defer timer.Stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if timedOut.Load() {
				return "", ErrAckTimeout
			}
			return "", fmt.Errorf("await acknowledgement: %w", err)
		}

		frame, err := stream.DecodeFrame(data)
		if err != nil {
			s.malformed(err, data)
			continue
		}

		switch {
		case frame.IsResponse():
			if *frame.ID != id {
				s.logger.Warn().Uint64("expected", id).Uint64("got", *frame.ID).Msg("ignoring response for another request")
				continue
			}
			subID, err := frame.SubscriptionID()
			if !timer.Stop() {
				// the timer already closed the connection
				return "", ErrAckTimeout
			}
			return subID, err
		case frame.ID == nil && frame.Error != nil:
			return "", frame.Error
		case frame.IsAccountNotification():
			s.pending = append(s.pending, frame)
		default:
			s.ignore(frame)
		}
	}
}

func (s *Session) listen(ctx context.Context) error {
	pending := s.pending
	s.pending = nil
	for _, frame := range pending {
		if err := s.handle(frame); err != nil {
			return err
		}
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if stream.IsNormalClosure(err) {
				s.logger.Info().Err(err).Msg("stream closed by remote")
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		frame, err := stream.DecodeFrame(data)
		if err != nil {
			s.malformed(err, data)
			continue
		}
		if err := s.handle(frame); err != nil {
			return err
		}
	}
}

func (s *Session) handle(frame stream.Frame) error {
	if !frame.IsAccountNotification() {
		s.ignore(frame)
		return nil
	}

	note, err := frame.AccountNotification()
	if err != nil {
		s.malformed(err, frame.Params)
		return nil
	}

	account, err := s.registry.Resolve(note.Subscription)
	if err != nil {
		return err
	}

	c := s.ledger.Observe(account, note.Lamports)
	if c.Kind == ledger.Baseline {
		s.metrics.Notification("baseline")
		s.logger.Info().Str("account", account).
			Str("balance_sol", ledger.FormatSOL(note.Lamports)).
			Msg("baseline balance recorded")
		return nil
	}

	if !s.opts.Policy.ShouldAlert(c) {
		s.metrics.Notification("delta")
		s.logger.Debug().Str("account", account).Int64("delta_lamports", c.Delta).Msg("balance changed")
		return nil
	}

	s.metrics.Notification("alert")
	alert := alerting.NewAlert(account, -c.Delta, note.Slot, s.now(), s.opts.ExplorerBase)
	s.logger.Warn().Str("account", account).
		Str("sent_sol", alert.SentSOL()).
		Uint64("slot", note.Slot).
		Msg("outbound transfer over threshold")
	s.sink.Enqueue(alert)
	return nil
}

func (s *Session) malformed(err error, data []byte) {
	s.metrics.Notification("malformed")
	const maxLogged = 256
	if len(data) > maxLogged {
		data = data[:maxLogged]
	}
	s.logger.Warn().Err(err).Bytes("frame", data).Msg("skipping malformed message")
}

func (s *Session) ignore(frame stream.Frame) {
	s.metrics.Notification("ignored")
	s.logger.Debug().Str("method", frame.Method).Msg("ignoring message")
}
