package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sol-outflow-alerts/internal/ledger"
	"sol-outflow-alerts/internal/stream"
)

const (
	accountA = "dUJNHh9Nm9rsn7ykTViG7N7BJuaoJJD9H635B8BVifa"
	accountB = "HvfLxsruaPW4uYZiXk6FBm9brCc78LL5Si9No92iJkSw"
)

func testOptions(accounts ...string) SessionOptions {
	return SessionOptions{
		Accounts:     accounts,
		Policy:       ledger.Policy{ThresholdLamports: 20 * sol},
		Subscribe:    stream.SubscribeOptions{Commitment: "confirmed"},
		AckTimeout:   time.Second,
		ExplorerBase: "https://solscan.io",
	}
}

func runSession(t *testing.T, conn *fakeConn, opts SessionOptions) (*sinkRecorder, error) {
	t.Helper()
	sink := &sinkRecorder{}
	s := NewSession(conn, opts, sink, nil, zerolog.Nop())
	return sink, s.Run(context.Background())
}

func TestSessionSubscribesInOrder(t *testing.T) {
	conn := newFakeConn()
	_, err := runSession(t, conn, testOptions(accountA, accountB))
	require.NoError(t, err)

	reqs := conn.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, uint64(1), reqs[0].ID)
	assert.Equal(t, stream.MethodAccountSubscribe, reqs[0].Method)
	assert.Equal(t, accountA, reqs[0].Params[0])
	assert.Equal(t, uint64(2), reqs[1].ID)
	assert.Equal(t, accountB, reqs[1].Params[0])
}

func TestSessionSingleAlertScenario(t *testing.T) {
	conn := newFakeConn(
		notification(101, 500*sol),
		notification(101, 500*sol),
		notification(101, 470*sol),
		notification(101, 470*sol),
		notification(101, 471*sol),
	)
	sink, err := runSession(t, conn, testOptions(accountA))
	require.NoError(t, err)

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, accountA, alerts[0].Account)
	assert.Equal(t, "30.00", alerts[0].SentSOL())
	assert.Equal(t, uint64(77), alerts[0].Slot)
	assert.Equal(t, "https://solscan.io/account/"+accountA, alerts[0].ExplorerURL)
}

func TestSessionFirstReadingNeverAlerts(t *testing.T) {
	conn := newFakeConn(
		notification(101, 0),
		notification(102, 1_000_000*sol),
	)
	sink, err := runSession(t, conn, testOptions(accountA, accountB))
	require.NoError(t, err)
	assert.Empty(t, sink.all())
}

func TestSessionRoutesPerAccount(t *testing.T) {
	conn := newFakeConn(
		notification(101, 100*sol),
		notification(102, 50*sol),
		notification(102, 10*sol),
		notification(101, 99*sol),
	)
	sink, err := runSession(t, conn, testOptions(accountA, accountB))
	require.NoError(t, err)

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, accountB, alerts[0].Account)
	assert.Equal(t, "40.00", alerts[0].SentSOL())
}

func TestSessionUnknownSubscriptionIsFatal(t *testing.T) {
	conn := newFakeConn(
		notification(101, 100*sol),
		notification(999, 1*sol),
		notification(101, 1*sol),
	)
	sink, err := runSession(t, conn, testOptions(accountA))
	require.ErrorIs(t, err, stream.ErrUnknownSubscription)
	assert.Empty(t, sink.all(), "frames after the unknown subscription must not be processed")
}

func TestSessionSkipsMalformedAndForeignMessages(t *testing.T) {
	conn := newFakeConn(
		notification(101, 100*sol),
		[]byte(`{not json`),
		[]byte(`{"jsonrpc":"2.0","method":"accountNotification","params":{"subscription":101,"result":{"value":{}}}}`),
		[]byte(`{"jsonrpc":"2.0","method":"slotNotification","params":{"result":{"slot":1},"subscription":5}}`),
		[]byte(`{"jsonrpc":"2.0","result":true,"id":42}`),
		notification(101, 50*sol),
	)
	sink, err := runSession(t, conn, testOptions(accountA))
	require.NoError(t, err)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, "50.00", sink.all()[0].SentSOL())
}

func TestSessionRPCErrorIsSubscribeError(t *testing.T) {
	conn := newFakeConn()
	conn.respond = func(req stream.Request) [][]byte {
		return [][]byte{[]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid param: WrongSize"},"id":1}`)}
	}
	_, err := runSession(t, conn, testOptions(accountA))

	var subErr *SubscribeError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, accountA, subErr.Account)
	var rpcErr *stream.RPCError
	assert.ErrorAs(t, err, &rpcErr)
}

func TestSessionAckTimeout(t *testing.T) {
	conn := newFakeConn()
	conn.respond = nil
	conn.end = nil

	opts := testOptions(accountA)
	opts.AckTimeout = 20 * time.Millisecond
	_, err := runSession(t, conn, opts)

	var subErr *SubscribeError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, ErrAckTimeout)
}

// lateAckConn hands out the acknowledgement only after the connection was closed.
type lateAckConn struct {
	*fakeConn
	delivered bool
}

func (c *lateAckConn) ReadMessage() (int, []byte, error) {
	if c.delivered {
		return c.fakeConn.ReadMessage()
	}
	c.delivered = true
	<-c.closed
	return websocket.TextMessage, ack(1, 101), nil
}

func TestSessionAckRacingTimeoutIsTimeout(t *testing.T) {
	conn := &lateAckConn{fakeConn: newFakeConn()}
	conn.respond = nil

	opts := testOptions(accountA)
	opts.AckTimeout = 10 * time.Millisecond
	sink := &sinkRecorder{}
	err := NewSession(conn, opts, sink, nil, zerolog.Nop()).Run(context.Background())

	var subErr *SubscribeError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Equal(t, accountA, subErr.Account)
}

func TestSessionCorrelatesAcksByID(t *testing.T) {
	conn := newFakeConn(notification(202, 10*sol), notification(202, 1*sol))
	conn.respond = func(req stream.Request) [][]byte {
		frames := [][]byte{ack(req.ID+50, 1)}
		if req.ID == 2 {
			// a push for the first subscription may race the second ack
			frames = append(frames, notification(201, 300*sol), notification(201, 200*sol))
		}
		return append(frames, ack(req.ID, 200+req.ID))
	}

	sink, err := runSession(t, conn, testOptions(accountA, accountB))
	require.NoError(t, err)

	alerts := sink.all()
	require.Len(t, alerts, 1)
	assert.Equal(t, accountA, alerts[0].Account)
	assert.Equal(t, "100.00", alerts[0].SentSOL())
}

func TestSessionTransportErrorIsReturned(t *testing.T) {
	conn := newFakeConn(notification(101, 1*sol))
	conn.end = errors.New("connection reset by peer")

	_, err := runSession(t, conn, testOptions(accountA))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestSessionCancelIsClean(t *testing.T) {
	conn := newFakeConn()
	conn.end = nil

	ctx, cancel := context.WithCancel(context.Background())
	s := NewSession(conn, testOptions(accountA), &sinkRecorder{}, nil, zerolog.Nop())
	active := make(chan struct{})
	s.onActive = func() { close(active) }

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	<-active
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancel")
	}
}
