package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("7", "A")
	r.Register("8", "B")

	account, err := r.Resolve("8")
	require.NoError(t, err)
	assert.Equal(t, "B", account)
	assert.Equal(t, 2, r.Len())

	_, err = r.Resolve("9")
	assert.ErrorIs(t, err, ErrUnknownSubscription)
}

func TestNewAccountSubscribeShape(t *testing.T) {
	req := NewAccountSubscribe(3, "addr", SubscribeOptions{Commitment: "confirmed"})
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","id":3,"method":"accountSubscribe","params":["addr",{"encoding":"base64","commitment":"confirmed"}]}`,
		string(raw))
}

func TestDecodeSubscribeResponse(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","result":23784,"id":1}`))
	require.NoError(t, err)
	require.True(t, f.IsResponse())
	assert.Equal(t, uint64(1), *f.ID)

	id, err := f.SubscriptionID()
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("23784"), id)
}

func TestDecodeSubscribeErrorResponse(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid param"},"id":1}`))
	require.NoError(t, err)

	_, err = f.SubscriptionID()
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32602, rpcErr.Code)
}

func TestDecodeAccountNotification(t *testing.T) {
	raw := `{"jsonrpc":"2.0","method":"accountNotification","params":{"result":{"context":{"slot":5199307},
	"value":{"data":["","base64"],"executable":false,"lamports":33594,"owner":"11111111111111111111111111111111","rentEpoch":635,"space":0}},
	"subscription":23784}}`
	f, err := DecodeFrame([]byte(raw))
	require.NoError(t, err)
	require.True(t, f.IsAccountNotification())

	n, err := f.AccountNotification()
	require.NoError(t, err)
	assert.Equal(t, SubscriptionID("23784"), n.Subscription)
	assert.Equal(t, int64(33594), n.Lamports)
	assert.Equal(t, uint64(5199307), n.Slot)
	assert.Equal(t, "11111111111111111111111111111111", n.Owner)
}

func TestDecodeMalformedNotifications(t *testing.T) {
	cases := map[string]string{
		"no params":       `{"method":"accountNotification"}`,
		"no subscription": `{"method":"accountNotification","params":{"result":{"value":{"lamports":1}}}}`,
		"no value":        `{"method":"accountNotification","params":{"subscription":1,"result":{}}}`,
		"no lamports":     `{"method":"accountNotification","params":{"subscription":1,"result":{"value":{}}}}`,
		"wrong type":      `{"method":"accountNotification","params":{"subscription":1,"result":{"value":{"lamports":"x"}}}}`,
		"too large":       `{"method":"accountNotification","params":{"subscription":1,"result":{"value":{"lamports":18446744073709551615}}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(raw))
			require.NoError(t, err)
			_, err = f.AccountNotification()
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}

	_, err := DecodeFrame([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, msg)
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	defer srv.Close()

	d := NewDialer(DialerOptions{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		PingInterval: 50 * time.Millisecond,
	}, zerolog.Nop())

	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"hello": "world"}))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(data))

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, IsNormalClosure(err))
	assert.False(t, IsNormalClosure(errors.New("boom")))
}

func TestDialerRequiresURL(t *testing.T) {
	_, err := NewDialer(DialerOptions{}, zerolog.Nop()).Dial(context.Background())
	assert.Error(t, err)
}
