package bridge

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Relay socket message types
const (
	SocketTypePub = "pub"
	SocketTypeSub = "sub"
)

// Protocol methods carried inside the relay payload
const (
	MethodSessionRequest    = "wc_sessionRequest"
	MethodSessionUpdate     = "wc_sessionUpdate"
	MethodSendTransaction   = "eth_sendTransaction"
	MethodSignTransaction   = "eth_signTransaction"
	MethodPersonalSign      = "personal_sign"
	MethodSignTypedData     = "eth_signTypedData"
	MethodExchangeOrder     = "bnb_sign"
	MethodOrderConfirmation = "bnb_tx_confirmation"
)

// SocketMessage is the relay pub/sub envelope.
type SocketMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

// Request is a JSON-RPC 2.0 request carried over the relay.
type Request struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is a JSON-RPC 2.0 response carried over the relay.
type Response struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard rejection sent for declined or failed requests.
var rejectedError = &RPCError{Code: -32000, Message: "Request rejected"}

// SessionRequestParams is the dApp half of the handshake.
type SessionRequestParams struct {
	PeerID   string           `json:"peerId"`
	PeerMeta *PeerMetaPayload `json:"peerMeta"`
	ChainID  *int64           `json:"chainId,omitempty"`
}

// SessionUpdateParams signals approval state changes from either side.
type SessionUpdateParams struct {
	Approved bool     `json:"approved"`
	ChainID  *int64   `json:"chainId,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
}

// SessionApproval is the wallet's answer to a session request.
type SessionApproval struct {
	PeerID   string           `json:"peerId"`
	PeerMeta *PeerMetaPayload `json:"peerMeta,omitempty"`
	Approved bool             `json:"approved"`
	ChainID  int64            `json:"chainId"`
	Accounts []string         `json:"accounts"`
}

// PeerMetaPayload is the wire shape of peer metadata.
type PeerMetaPayload struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

// TxRequestParams is one entry of an eth_sendTransaction/eth_signTransaction
// params array. All numeric fields are 0x-hex per the Ethereum JSON-RPC
// convention; absent fields are estimated during preparation.
type TxRequestParams struct {
	From     string `json:"from"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasLimit string `json:"gasLimit,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
	Nonce    string `json:"nonce,omitempty"`
	Data     string `json:"data,omitempty"`
}

// InboundKind classifies a decoded inbound event.
type InboundKind int

const (
	// KindSessionRequest is the remote handshake half
	KindSessionRequest InboundKind = iota
	// KindSessionUpdate is a remote approval-state change
	KindSessionUpdate
	// KindSendTransaction asks the wallet to sign and broadcast
	KindSendTransaction
	// KindSignTransaction asks the wallet to sign without broadcasting
	KindSignTransaction
	// KindPersonalSign asks for a personal message signature
	KindPersonalSign
	// KindSignTypedData asks for an EIP-712 typed data signature
	KindSignTypedData
	// KindExchangeOrder carries an exchange trade/transfer order
	KindExchangeOrder
	// KindOrderConfirmation acknowledges an exchange order status
	KindOrderConfirmation
	// KindCustom is any unrecognized method
	KindCustom
	// KindTransportClosed is synthesized when the socket is gone for good
	KindTransportClosed
)

// Inbound is one decoded protocol callback. All inbound traffic for a
// session funnels through a single Handler as this sum type, so the
// dispatch switch is exhaustive and testable without a live relay.
type Inbound struct {
	Kind   InboundKind
	ID     int64
	Method string
	Params json.RawMessage
}

// Handler consumes inbound events for one session, in delivery order.
type Handler func(in Inbound)

// classify maps a protocol method to its inbound kind.
func classify(method string) InboundKind {
	switch method {
	case MethodSessionRequest:
		return KindSessionRequest
	case MethodSessionUpdate:
		return KindSessionUpdate
	case MethodSendTransaction:
		return KindSendTransaction
	case MethodSignTransaction:
		return KindSignTransaction
	case MethodPersonalSign:
		return KindPersonalSign
	case MethodSignTypedData:
		return KindSignTypedData
	case MethodExchangeOrder:
		return KindExchangeOrder
	case MethodOrderConfirmation:
		return KindOrderConfirmation
	default:
		return KindCustom
	}
}

var requestCounter int64

// NextRequestID produces a protocol request id unique within the process.
// Millisecond-timestamp based, matching what dApp clients send.
func NextRequestID() int64 {
	return time.Now().UnixMilli()*1000 + atomic.AddInt64(&requestCounter, 1)%1000
}
