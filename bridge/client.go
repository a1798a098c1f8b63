package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/resilience"
	"github.com/peerwallet-project/walletbridge/types"
)

const (
	// Time allowed to write a message to the relay
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the relay
	pongWait = 60 * time.Second
	// Send pings with this period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Initial delay before the first reconnection attempt
	initialReconnectDelay = 1 * time.Second
	// Maximum delay between reconnection attempts
	maxReconnectDelay = 30 * time.Second
	// Reconnection attempts before the transport is declared dead
	maxReconnectAttempts = 5
)

// Client is the live relay connection for one session. It owns the socket,
// keeps the topic subscription alive across transient drops, and exposes
// the protocol reply primitives. A Client is exclusively owned by its
// session record; nothing else writes to it.
type Client struct {
	key       types.SessionKey
	handler   Handler
	validator *PayloadValidator
	log       *logger.Logger

	conn    *websocket.Conn
	connMu  sync.RWMutex // guards conn, localPeerID, walletMeta
	writeMu sync.Mutex

	localPeerID  string
	walletMeta   *types.PeerMeta
	remotePeerID atomic.Value // string
	handshakeID  atomic.Int64

	breaker *resilience.CircuitBreaker

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the session's bridge relay, subscribes to its topic and
// starts the read loop. The handler receives every decoded inbound event
// in delivery order.
func Dial(key types.SessionKey, handler Handler, validator *PayloadValidator, log *logger.Logger) (*Client, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil inbound handler")
	}
	if log == nil {
		log = logger.Global().WithComponent("bridge")
	}

	c := &Client{
		key:       key,
		handler:   handler,
		validator: validator,
		log:       log.WithSession(key.Topic),
		breaker:   resilience.NewCircuitBreaker(3, 30*time.Second),
		done:      make(chan struct{}),
	}
	c.breaker.SetOnStateChange(func(from, to resilience.State) {
		c.log.Warnf("relay circuit breaker: %s -> %s", from, to)
	})

	if err := c.dial(); err != nil {
		return nil, err
	}

	go c.readPump()
	go c.pingLoop()
	return c, nil
}

// dial establishes the socket and restores the topic subscriptions.
func (c *Client) dial() error {
	endpoint, err := wsURL(c.key.Bridge)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", endpoint, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if err := c.subscribe(c.key.Topic); err != nil {
		return err
	}
	c.connMu.RLock()
	local := c.localPeerID
	c.connMu.RUnlock()
	if local != "" {
		if err := c.subscribe(local); err != nil {
			return err
		}
	}

	c.log.Debug("connected to bridge relay")
	return nil
}

// subscribe announces interest in a relay topic.
func (c *Client) subscribe(topic string) error {
	msg := SocketMessage{Topic: topic, Type: SocketTypeSub, Payload: "", Silent: true}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(data)
}

// write pushes one frame onto the socket under the write lock.
func (c *Client) write(data []byte) error {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("bridge connection is down")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// publish sends a payload to a relay topic, retried with backoff behind
// the relay circuit breaker.
func (c *Client) publish(topic string, payload []byte) error {
	msg := SocketMessage{Topic: topic, Type: SocketTypePub, Payload: string(payload), Silent: true}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return c.breaker.Execute(func() error {
		return resilience.Retry(context.Background(), func() error {
			return c.write(data)
		})
	})
}

// replyTopic is where responses go: the remote peer's channel once the
// handshake taught us its id, the shared topic before that.
func (c *Client) replyTopic() string {
	if v, ok := c.remotePeerID.Load().(string); ok && v != "" {
		return v
	}
	return c.key.Topic
}

// sendRequest publishes a JSON-RPC request with a fresh id.
func (c *Client) sendRequest(method string, params interface{}) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req := Request{ID: NextRequestID(), JSONRPC: "2.0", Method: method, Params: raw}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.publish(c.replyTopic(), data)
}

// sendResponse publishes a JSON-RPC result for a request id.
func (c *Client) sendResponse(id int64, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	resp := Response{ID: id, JSONRPC: "2.0", Result: raw}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.publish(c.replyTopic(), data)
}

// sendError publishes a JSON-RPC error for a request id.
func (c *Client) sendError(id int64, rpcErr *RPCError) error {
	resp := Response{ID: id, JSONRPC: "2.0", Error: rpcErr}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.publish(c.replyTopic(), data)
}

// readPump reads relay frames until the client is closed or the socket is
// unrecoverable. Unexpected drops are retried with backoff; only after the
// retry budget is spent does the handler see KindTransportClosed.
func (c *Client) readPump() {
	for {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-c.done:
					return
				default:
				}
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.log.Error("bridge read failed", err)
				}
				if !c.reconnect() {
					c.handler(Inbound{Kind: KindTransportClosed})
					return
				}
				break // re-enter outer loop with the fresh conn
			}
			c.dispatch(message)
		}
	}
}

// reconnect re-dials with exponential backoff. Returns false when the
// retry budget is spent or the client was closed.
func (c *Client) reconnect() bool {
	delay := initialReconnectDelay
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		if err := c.dial(); err != nil {
			c.log.Warnf("reconnection attempt %d failed: %v", attempt, err)
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}
		c.log.Info("bridge relay connection restored")
		return true
	}
	c.log.Warn("bridge relay unreachable, giving up")
	return false
}

// pingLoop keeps the relay connection alive.
func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debugf("ping failed: %v", err)
			}
		}
	}
}

// dispatch decodes one relay frame and hands it to the session handler.
func (c *Client) dispatch(message []byte) {
	var sock SocketMessage
	if err := json.Unmarshal(message, &sock); err != nil {
		c.log.Warnf("undecodable relay frame: %v", err)
		return
	}
	if sock.Type != SocketTypePub {
		return
	}

	var req Request
	if err := json.Unmarshal([]byte(sock.Payload), &req); err != nil || req.Method == "" {
		// Not a request; responses to our own wc_sessionUpdate etc. need
		// no correlation here.
		return
	}

	kind := classify(req.Method)
	if !c.admit(kind, req) {
		return
	}

	c.handler(Inbound{Kind: kind, ID: req.ID, Method: req.Method, Params: req.Params})
}

// admit schema-validates handshake traffic and records handshake state.
// Invalid payloads are answered with a rejection and dropped.
func (c *Client) admit(kind InboundKind, req Request) bool {
	if c.validator == nil {
		if kind == KindSessionRequest {
			c.recordHandshake(req)
		}
		return true
	}

	switch kind {
	case KindSessionRequest:
		if err := c.validator.ValidateSessionRequest(req.Params); err != nil {
			c.log.Warnf("rejecting malformed session request: %v", err)
			_ = c.sendError(req.ID, rejectedError)
			return false
		}
		c.recordHandshake(req)
	case KindSessionUpdate:
		if err := c.validator.ValidateSessionUpdate(req.Params); err != nil {
			c.log.Warnf("dropping malformed session update: %v", err)
			return false
		}
	}
	return true
}

// recordHandshake remembers the handshake request id and the remote peer's
// channel so replies can be addressed.
func (c *Client) recordHandshake(req Request) {
	c.handshakeID.Store(req.ID)

	var params []SessionRequestParams
	if err := json.Unmarshal(req.Params, &params); err == nil && len(params) > 0 {
		if params[0].PeerID != "" {
			c.remotePeerID.Store(params[0].PeerID)
		}
	}
}

// --- types.Transport ---

// SendSessionRequest arms the wallet half of the handshake: it registers
// the wallet's own peer identity and listens on its private channel. The
// dApp's session request arrives asynchronously through the handler. A
// non-empty remotePeerID seeds the reply channel for restored sessions,
// where the handshake already happened in a previous process.
func (c *Client) SendSessionRequest(localPeerID, remotePeerID string, meta *types.PeerMeta) error {
	c.connMu.Lock()
	c.localPeerID = localPeerID
	c.walletMeta = meta
	c.connMu.Unlock()

	if remotePeerID != "" {
		c.remotePeerID.Store(remotePeerID)
	}
	return c.subscribe(localPeerID)
}

// ApproveSession answers the pending handshake with the wallet's accounts
// and chain id. Returns the publish acknowledgement.
func (c *Client) ApproveSession(accounts []string, chainID int64) (bool, error) {
	id := c.handshakeID.Load()
	if id == 0 {
		return false, fmt.Errorf("no handshake to approve")
	}

	c.connMu.RLock()
	local, meta := c.localPeerID, c.walletMeta
	c.connMu.RUnlock()

	approval := SessionApproval{
		PeerID:   local,
		PeerMeta: toPeerMetaPayload(meta),
		Approved: true,
		ChainID:  chainID,
		Accounts: accounts,
	}
	if err := c.sendResponse(id, approval); err != nil {
		return false, err
	}
	return true, nil
}

// RejectSession answers the pending handshake negatively.
func (c *Client) RejectSession(reason string) error {
	id := c.handshakeID.Load()
	if id == 0 {
		return fmt.Errorf("no handshake to reject")
	}
	if reason == "" {
		reason = rejectedError.Message
	}
	return c.sendError(id, &RPCError{Code: rejectedError.Code, Message: reason})
}

// ApproveRequest replies to a request id with a result.
func (c *Client) ApproveRequest(id int64, result interface{}) error {
	return c.sendResponse(id, result)
}

// RejectRequest replies to a request id with the standard rejection.
func (c *Client) RejectRequest(id int64) error {
	return c.sendError(id, rejectedError)
}

// KillSession notifies the remote peer that the session is over. The
// returned bool is the publish acknowledgement; callers gate teardown on it.
func (c *Client) KillSession() (bool, error) {
	params := []SessionUpdateParams{{Approved: false}}
	if err := c.sendRequest(MethodSessionUpdate, params); err != nil {
		return false, err
	}
	return true, nil
}

// Close tears the socket down without any protocol exchange.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
	return nil
}

func toPeerMetaPayload(meta *types.PeerMeta) *PeerMetaPayload {
	if meta == nil {
		return nil
	}
	return &PeerMetaPayload{
		Name:        meta.Name,
		URL:         meta.URL,
		Description: meta.Description,
		Icons:       meta.Icons,
	}
}

var _ types.Transport = (*Client)(nil)
