package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Conn is the text-frame connection a session runs on.
type Conn interface {
	WriteJSON(v any) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
}

// DialerOptions parameterise the websocket dialer.
type DialerOptions struct {
	URL              string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	Header           http.Header
}

// Dialer opens fresh websocket connections to the RPC endpoint.
type Dialer struct {
	opts   DialerOptions
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewDialer builds a Dialer, filling in defaults.
func NewDialer(opts DialerOptions, logger zerolog.Logger) *Dialer {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = 2 * opts.PingInterval
	}

	return &Dialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.With().Str("component", "ws_dialer").Logger(),
	}
}

// Dial connects and starts the keep-alive pinger.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	if d.opts.URL == "" {
		return nil, errors.New("websocket url not configured")
	}

	ws, resp, err := d.dialer.DialContext(ctx, d.opts.URL, d.opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.opts.URL, err)
	}

	c := &wsConn{
		ws:       ws,
		pongWait: d.opts.PongWait,
		done:     make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	go c.keepAlive(d.opts.PingInterval, d.logger)

	d.logger.Debug().Str("url", d.opts.URL).Msg("websocket connected")
	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	pongWait time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

var _ Conn = (*wsConn)(nil)

func (c *wsConn) WriteJSON(v any) error {
	return c.ws.WriteJSON(v)
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	if err := c.ws.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		return 0, nil, err
	}
	return c.ws.ReadMessage()
}

// Close sends a normal close frame best effort and tears the socket down.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) keepAlive(interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(interval)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// IsNormalClosure reports whether err is the peer closing the socket cleanly.
func IsNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
