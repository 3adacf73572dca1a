package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"sol-outflow-alerts/internal/alerting"
	"sol-outflow-alerts/internal/stream"
)

const sol = int64(1_000_000_000)

var errConnClosed = errors.New("use of closed network connection")

// fakeConn serves responses to writes first, then the scripted frames, then end.
// A nil end blocks until Close.
type fakeConn struct {
	mu      sync.Mutex
	respond func(req stream.Request) [][]byte
	queued  [][]byte
	script  [][]byte
	end     error
	writes  []stream.Request

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn(script ...[]byte) *fakeConn {
	return &fakeConn{
		respond: ackWith(100),
		script:  script,
		end:     &websocket.CloseError{Code: websocket.CloseNormalClosure},
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	req, ok := v.(stream.Request)
	if !ok {
		return fmt.Errorf("unexpected write %T", v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.writes = append(c.writes, req)
	if c.respond != nil {
		c.queued = append(c.queued, c.respond(req)...)
	}
	return nil
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return 0, nil, errConnClosed
	default:
	}
	if len(c.queued) > 0 {
		next := c.queued[0]
		c.queued = c.queued[1:]
		c.mu.Unlock()
		return websocket.TextMessage, next, nil
	}
	if len(c.script) > 0 {
		next := c.script[0]
		c.script = c.script[1:]
		c.mu.Unlock()
		return websocket.TextMessage, next, nil
	}
	end := c.end
	c.mu.Unlock()

	if end != nil {
		return 0, nil, end
	}
	<-c.closed
	return 0, nil, errConnClosed
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) requests() []stream.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]stream.Request(nil), c.writes...)
}

// ackWith acknowledges request n with subscription id base+n.
func ackWith(base uint64) func(req stream.Request) [][]byte {
	return func(req stream.Request) [][]byte {
		return [][]byte{ack(req.ID, base+req.ID)}
	}
}

func ack(id, sub uint64) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","result":%d,"id":%d}`, sub, id))
}

func notification(sub uint64, lamports int64) []byte {
	return []byte(fmt.Sprintf(`{"jsonrpc":"2.0","method":"accountNotification","params":{"result":{"context":{"slot":77},"value":{"data":["","base64"],"executable":false,"lamports":%d,"owner":"11111111111111111111111111111111","rentEpoch":0,"space":0}},"subscription":%d}}`, lamports, sub))
}

type sinkRecorder struct {
	mu     sync.Mutex
	alerts []alerting.Alert
}

func (s *sinkRecorder) Enqueue(alert alerting.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return true
}

func (s *sinkRecorder) all() []alerting.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]alerting.Alert(nil), s.alerts...)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context) (stream.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, errors.New("no more connections")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}
