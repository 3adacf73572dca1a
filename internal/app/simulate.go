package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sol-outflow-alerts/internal/alerting"
	"sol-outflow-alerts/internal/monitor"
	"sol-outflow-alerts/internal/stream"
)

// SimulateAlert 通过给定的余额序列模拟一次告警流程：读数经由真实的 session、
// ledger 与 policy，命中的告警同步发送到已启用的通道。
func (a *App) SimulateAlert(ctx context.Context, account string, readings []int64) (int, error) {
	if len(readings) < 2 {
		return 0, errors.New("至少需要两个余额读数")
	}

	notifier, closeNotifier := a.newNotifier()
	defer closeNotifier()
	if notifier == nil {
		return 0, errors.New("未配置任何告警通道")
	}

	opts, err := a.sessionOptions()
	if err != nil {
		return 0, err
	}
	opts.Accounts = []string{account}

	sink := &syncSink{ctx: ctx, notifier: notifier, timeout: a.Config.Alerting.SendTimeout}
	session := monitor.NewSession(newReplayConn(readings), opts, sink, nil, a.Logger)
	if err := session.Run(ctx); err != nil {
		return 0, fmt.Errorf("replay session: %w", err)
	}

	sent, errs := sink.result()
	return sent, errors.Join(errs...)
}

// syncSink 在读循环内同步投递告警。
type syncSink struct {
	ctx      context.Context
	notifier alerting.Notifier
	timeout  time.Duration

	mu   sync.Mutex
	sent int
	errs []error
}

func (s *syncSink) Enqueue(alert alerting.Alert) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	err := s.notifier.Notify(ctx, alert)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errs = append(s.errs, err)
		return false
	}
	s.sent++
	return true
}

func (s *syncSink) result() (int, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent, s.errs
}

const replaySubscription = 1

// replayConn 应答订阅请求, 随后把读数作为账户通知回放, 最后正常关闭。
type replayConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func newReplayConn(readings []int64) *replayConn {
	c := &replayConn{}
	for i, lamports := range readings {
		c.frames = append(c.frames, []byte(fmt.Sprintf(
			`{"jsonrpc":"2.0","method":"accountNotification","params":{"result":{"context":{"slot":%d},"value":{"lamports":%d}},"subscription":%d}}`,
			i+1, lamports, replaySubscription)))
	}
	return c
}

func (c *replayConn) WriteJSON(v any) error {
	req, ok := v.(stream.Request)
	if !ok {
		return fmt.Errorf("unexpected request %T", v)
	}
	ack := []byte(fmt.Sprintf(`{"jsonrpc":"2.0","result":%d,"id":%d}`, replaySubscription, req.ID))
	c.mu.Lock()
	c.frames = append([][]byte{ack}, c.frames...)
	c.mu.Unlock()
	return nil
}

func (c *replayConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "replay finished"}
	}
	next := c.frames[0]
	c.frames = c.frames[1:]
	return websocket.TextMessage, next, nil
}

func (c *replayConn) Close() error { return nil }

var (
	_ stream.Conn       = (*replayConn)(nil)
	_ monitor.AlertSink = (*syncSink)(nil)
)
