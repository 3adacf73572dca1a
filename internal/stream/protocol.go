// Package stream speaks the Solana JSON-RPC websocket dialect used for account
// subscriptions and owns the underlying connection.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	// MethodAccountSubscribe is the JSON-RPC method that registers an account.
	MethodAccountSubscribe = "accountSubscribe"
	// MethodAccountNotification tags server pushes for account subscriptions.
	MethodAccountNotification = "accountNotification"

	jsonRPCVersion = "2.0"
)

var (
	// ErrUnknownSubscription means a notification referenced an id this
	// session never registered.
	ErrUnknownSubscription = errors.New("stream: unknown subscription")
	// ErrMalformedMessage marks a frame missing fields required for routing.
	ErrMalformedMessage = errors.New("stream: malformed message")
)

// SubscriptionID is the opaque token the server returned for a subscription.
// It is kept as compact JSON text so numeric and string ids both work.
type SubscriptionID string

// Request is an outbound JSON-RPC call.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// SubscribeOptions map to the accountSubscribe config object.
type SubscribeOptions struct {
	Encoding   string `json:"encoding,omitempty"`
	Commitment string `json:"commitment,omitempty"`
}

// NewAccountSubscribe builds the accountSubscribe request for address.
func NewAccountSubscribe(id uint64, address string, opts SubscribeOptions) Request {
	if opts.Encoding == "" {
		opts.Encoding = "base64"
	}
	return Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  MethodAccountSubscribe,
		Params:  []any{address, opts},
	}
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Frame is the union of every inbound message shape we care about.
type Frame struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
	Params json.RawMessage `json:"params"`
}

// DecodeFrame parses a raw text frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return f, nil
}

// IsResponse reports whether the frame answers a request.
func (f Frame) IsResponse() bool {
	return f.ID != nil && f.Method == ""
}

// IsAccountNotification reports whether the frame is an account push.
func (f Frame) IsAccountNotification() bool {
	return f.Method == MethodAccountNotification
}

// SubscriptionID extracts the subscription id from a subscribe response.
func (f Frame) SubscriptionID() (SubscriptionID, error) {
	if f.Error != nil {
		return "", f.Error
	}
	return normalizeID(f.Result)
}

// AccountNotification is the routed content of an accountNotification frame.
type AccountNotification struct {
	Subscription SubscriptionID
	Slot         uint64
	Lamports     int64
	Owner        string
}

type notificationParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       *struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Lamports *uint64 `json:"lamports"`
			Owner    string  `json:"owner"`
		} `json:"value"`
	} `json:"result"`
}

// AccountNotification decodes the params of an accountNotification frame.
// Missing or out-of-range fields yield ErrMalformedMessage.
func (f Frame) AccountNotification() (AccountNotification, error) {
	if len(f.Params) == 0 {
		return AccountNotification{}, fmt.Errorf("%w: missing params", ErrMalformedMessage)
	}

	var p notificationParams
	if err := json.Unmarshal(f.Params, &p); err != nil {
		return AccountNotification{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	sub, err := normalizeID(p.Subscription)
	if err != nil {
		return AccountNotification{}, err
	}
	if p.Result == nil || p.Result.Value == nil || p.Result.Value.Lamports == nil {
		return AccountNotification{}, fmt.Errorf("%w: missing lamports", ErrMalformedMessage)
	}
	lamports := *p.Result.Value.Lamports
	if lamports > math.MaxInt64 {
		return AccountNotification{}, fmt.Errorf("%w: lamports out of range", ErrMalformedMessage)
	}

	return AccountNotification{
		Subscription: sub,
		Slot:         p.Result.Context.Slot,
		Lamports:     int64(lamports),
		Owner:        p.Result.Value.Owner,
	}, nil
}

func normalizeID(raw json.RawMessage) (SubscriptionID, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", fmt.Errorf("%w: missing subscription id", ErrMalformedMessage)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return SubscriptionID(buf.String()), nil
}
