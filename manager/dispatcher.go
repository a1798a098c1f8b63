package manager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/peerwallet-project/walletbridge/bridge"
	"github.com/peerwallet-project/walletbridge/signer"
	"github.com/peerwallet-project/walletbridge/types"
)

// dispatch routes one inbound protocol callback. Every path ends in a
// registry mutation plus event, or a bridge reply; nothing propagates as
// a panic across the registry boundary and a missing session is always a
// no-op, never an error.
func (m *Manager) dispatch(key types.SessionKey, in bridge.Inbound) {
	switch in.Kind {
	case bridge.KindSessionRequest:
		m.handleSessionRequest(key, in)
	case bridge.KindSessionUpdate:
		m.handleSessionUpdate(key, in)
	case bridge.KindSendTransaction:
		m.handleTransaction(key, in, false)
	case bridge.KindSignTransaction:
		m.handleTransaction(key, in, true)
	case bridge.KindPersonalSign:
		m.handlePersonalSign(key, in)
	case bridge.KindSignTypedData:
		m.handleTypedData(key, in)
	case bridge.KindExchangeOrder:
		m.handleExchangeOrder(key, in)
	case bridge.KindOrderConfirmation:
		m.handleOrderConfirmation(key, in)
	case bridge.KindCustom:
		m.handleCustom(key, in)
	case bridge.KindTransportClosed:
		m.handleTransportClosed(key)
	}
}

// handleSessionRequest is the remote half of the handshake: populate peer
// metadata and the remote peer id exactly once, then surface the session
// for the user's approve/reject decision.
func (m *Manager) handleSessionRequest(key types.SessionKey, in bridge.Inbound) {
	var params []bridge.SessionRequestParams
	if err := json.Unmarshal(in.Params, &params); err != nil || len(params) == 0 || params[0].PeerMeta == nil {
		m.log.WithSession(key.Topic).Warnf("undecodable session request: %v", err)
		return
	}

	meta := &types.PeerMeta{
		Name:        params[0].PeerMeta.Name,
		URL:         params[0].PeerMeta.URL,
		Description: params[0].PeerMeta.Description,
		Icons:       params[0].PeerMeta.Icons,
	}

	s := m.registry.CompleteHandshake(key, params[0].PeerID, meta)
	if s == nil {
		return
	}

	ev := types.NewEvent(types.EventHandshakeAccepted, key)
	ev.Peer = meta
	m.emit(ev)
	m.log.WithSession(key.Topic).Infof("handshake completed with %s", meta.URL)
}

// handleSessionUpdate treats a non-approval update as a remote-initiated
// close.
func (m *Manager) handleSessionUpdate(key types.SessionKey, in bridge.Inbound) {
	var params []bridge.SessionUpdateParams
	if err := json.Unmarshal(in.Params, &params); err != nil || len(params) == 0 {
		m.log.WithSession(key.Topic).Warnf("undecodable session update: %v", err)
		return
	}
	if params[0].Approved {
		return
	}
	m.log.WithSession(key.Topic).Info("session ended by remote peer")
	m.teardown(context.Background(), key)
}

// handleTransaction runs the signing service's preparation step and
// stores the result as the session's pending payload. A preparation
// failure is answered with a rejection and never leaves a dangling
// payload.
func (m *Manager) handleTransaction(key types.SessionKey, in bridge.Inbound, signOnly bool) {
	s := m.registry.Get(key)
	if s == nil {
		return
	}

	var params []bridge.TxRequestParams
	if err := json.Unmarshal(in.Params, &params); err != nil || len(params) == 0 {
		m.log.WithSession(key.Topic).Warnf("undecodable transaction request: %v", err)
		m.reject(s, in.ID)
		return
	}

	pending, err := m.signer.PrepareTransaction(context.Background(), s.Binding, in.ID, params[0], signOnly)
	if err != nil {
		m.log.WithSession(key.Topic).Error("transaction preparation failed", err)
		m.reject(s, in.ID)
		return
	}

	req := &types.SignRequest{Kind: types.PendingKindTransaction, Tx: pending}
	if !m.registry.SetPending(key, req) {
		// Session vanished or another payload is still under review.
		m.reject(s, in.ID)
		return
	}

	ev := types.NewEvent(types.EventSigningRequested, key)
	ev.Request = req
	m.emit(ev)
}

// handlePersonalSign builds a reviewable message payload. Malformed
// params still produce a best-effort raw preview rather than failing.
func (m *Manager) handlePersonalSign(key types.SessionKey, in bridge.Inbound) {
	s := m.registry.Get(key)
	if s == nil {
		return
	}

	raw, preview, data := decodeSignMessage(in.Params, 0)
	msg := &types.PendingMessage{
		RequestID: in.ID,
		Raw:       raw,
		Hash:      hex.EncodeToString(signer.HashPersonalMessage(data)),
		Preview:   preview,
	}
	m.queueMessage(key, s, in.ID, msg)
}

// handleTypedData builds a typed-data message payload. The hash is over
// the raw typed-data JSON; the preview is the JSON itself.
func (m *Manager) handleTypedData(key types.SessionKey, in bridge.Inbound) {
	s := m.registry.Get(key)
	if s == nil {
		return
	}

	raw, preview, data := decodeSignMessage(in.Params, 1)
	msg := &types.PendingMessage{
		RequestID: in.ID,
		Raw:       raw,
		Hash:      hex.EncodeToString(signer.HashPersonalMessage(data)),
		Preview:   preview,
		TypedData: true,
	}
	m.queueMessage(key, s, in.ID, msg)
}

// queueMessage stores a message payload and raises PersonalSignRequested.
func (m *Manager) queueMessage(key types.SessionKey, s *types.Session, id int64, msg *types.PendingMessage) {
	req := &types.SignRequest{Kind: types.PendingKindMessage, Message: msg}
	if !m.registry.SetPending(key, req) {
		m.reject(s, id)
		return
	}
	ev := types.NewEvent(types.EventPersonalSignRequested, key)
	ev.Request = req
	m.emit(ev)
}

// handleExchangeOrder decodes a trade/transfer order into a normalized
// message-data record. Decoding errors are fatal for the request: they
// are answered with a rejection, no retry.
func (m *Manager) handleExchangeOrder(key types.SessionKey, in bridge.Inbound) {
	s := m.registry.Get(key)
	if s == nil {
		return
	}

	order, err := decodeExchangeOrder(in.ID, in.Params)
	if err != nil {
		m.log.WithSession(key.Topic).Error("undecodable exchange order", err)
		m.reject(s, in.ID)
		return
	}

	req := &types.SignRequest{Kind: types.PendingKindOrder, Order: order}
	if !m.registry.SetPending(key, req) {
		m.reject(s, in.ID)
		return
	}

	ev := types.NewEvent(types.EventExchangeOrderRequested, key)
	ev.Request = req
	m.emit(ev)
}

// handleOrderConfirmation acknowledges an externally-reported OK status
// with an empty approval; anything else is left to the explicit flow.
func (m *Manager) handleOrderConfirmation(key types.SessionKey, in bridge.Inbound) {
	s := m.registry.Get(key)
	if s == nil {
		return
	}

	var params []struct {
		OK     bool   `json:"ok"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(in.Params, &params); err != nil || len(params) == 0 {
		return
	}
	if params[0].OK || params[0].Status == "OK" || params[0].Status == "ok" {
		if err := s.Transport.ApproveRequest(in.ID, struct{}{}); err != nil {
			m.log.WithSession(key.Topic).Error("order confirmation reply failed", err)
		}
	}
}

// handleCustom tries to interpret an opaque payload as a typed-data sign
// request; anything unrecognized is silently dropped.
func (m *Manager) handleCustom(key types.SessionKey, in bridge.Inbound) {
	var params []json.RawMessage
	if err := json.Unmarshal(in.Params, &params); err != nil {
		return
	}
	for _, p := range params {
		var probe struct {
			Types   json.RawMessage `json:"types"`
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(p, &probe); err == nil && probe.Types != nil && probe.Message != nil {
			m.handleTypedData(key, in)
			return
		}
	}
}

// handleTransportClosed is a remote-initiated close below the protocol:
// the relay connection is gone for good.
func (m *Manager) handleTransportClosed(key types.SessionKey) {
	m.log.WithSession(key.Topic).Warn("transport closed by remote")
	m.teardown(context.Background(), key)
}

// CompleteSigning consumes the session's pending transaction payload and
// runs the signing service's execution step. Success replies with the
// transaction hash, failure with a rejection; the pending payload is
// cleared on both paths. No pending payload is a safe no-op.
func (m *Manager) CompleteSigning(ctx context.Context, key types.SessionKey) error {
	s := m.registry.Get(key)
	if s == nil {
		return nil
	}

	req := m.registry.TakePendingKind(key, types.PendingKindTransaction)
	if req == nil {
		return nil
	}

	hash, err := m.signer.ExecuteTransaction(ctx, s.Binding, m.chainID(s.Binding.Chain), req.Tx)
	if err != nil {
		m.log.WithSession(key.Topic).Error("transaction signing failed", err)
		m.reject(s, req.Tx.RequestID)
		return err
	}

	if err := s.Transport.ApproveRequest(req.Tx.RequestID, hash); err != nil {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "signing reply failed", err)
	}
	m.log.WithSession(key.Topic).Infof("signing completed: %s", hash)
	return nil
}

// AcceptRequest is the pass-through approval used by the personal-sign
// and exchange-order flows once the signing service has produced a
// result. Clears a matching pending payload.
func (m *Manager) AcceptRequest(key types.SessionKey, requestID int64, data interface{}) error {
	s := m.registry.Get(key)
	if s == nil {
		return types.NewBridgeError(types.ErrCodeSessionNotFound, "no such session", nil)
	}
	if err := s.Transport.ApproveRequest(requestID, data); err != nil {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "approval reply failed", err)
	}
	m.registry.ClearPending(key, requestID)
	return nil
}

// RejectRequest is the pass-through rejection. Clears a matching pending
// payload.
func (m *Manager) RejectRequest(key types.SessionKey, requestID int64) error {
	s := m.registry.Get(key)
	if s == nil {
		return types.NewBridgeError(types.ErrCodeSessionNotFound, "no such session", nil)
	}
	if err := s.Transport.RejectRequest(requestID); err != nil {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "rejection reply failed", err)
	}
	m.registry.ClearPending(key, requestID)
	return nil
}

// reject answers a request with the standard rejection, logging reply
// failures instead of propagating them.
func (m *Manager) reject(s *types.Session, requestID int64) {
	if err := s.Transport.RejectRequest(requestID); err != nil {
		m.log.WithSession(s.Key.Topic).Error("rejection reply failed", err)
	}
}

// decodeSignMessage extracts the message argument at index idx from a
// params array, returning the raw argument, a human-readable preview and
// the bytes to hash. Malformed input degrades to a raw preview of the
// whole params payload.
func decodeSignMessage(params json.RawMessage, idx int) (raw, preview string, data []byte) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) <= idx {
		// Typed-data arguments may be objects rather than strings.
		var anyArgs []json.RawMessage
		if err := json.Unmarshal(params, &anyArgs); err == nil && len(anyArgs) > idx {
			raw = string(anyArgs[idx])
			return raw, raw, []byte(raw)
		}
		raw = string(params)
		return raw, raw, []byte(raw)
	}

	raw = args[idx]
	if b, err := hexDecode(raw); err == nil {
		if utf8.Valid(b) {
			return raw, string(b), b
		}
		return raw, raw, b
	}
	return raw, raw, []byte(raw)
}

// hexDecode decodes a 0x-prefixed hex string.
func hexDecode(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return hex.DecodeString(s[2:])
	}
	return nil, hex.InvalidByteError('x')
}

// exchange order wire shapes (Binance chain style)

type exchangeOrderPayload struct {
	Msgs []exchangeMsg `json:"msgs"`
	Memo string        `json:"memo"`
}

type exchangeMsg struct {
	Inputs  []exchangeIO `json:"inputs"`
	Outputs []exchangeIO `json:"outputs"`
}

type exchangeIO struct {
	Address string         `json:"address"`
	Coins   []exchangeCoin `json:"coins"`
}

type exchangeCoin struct {
	Amount json.Number `json:"amount"`
	Denom  string      `json:"denom"`
}

// decodeExchangeOrder normalizes an order into counterparties, amount and
// a canonical serialization hash. Canonical form is the JSON re-encoding
// of the decoded document, which sorts object keys.
func decodeExchangeOrder(requestID int64, params json.RawMessage) (*types.PendingOrder, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, errors.New("empty order params")
	}

	var doc interface{}
	if err := json.Unmarshal(args[0], &doc); err != nil {
		return nil, err
	}
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)

	order := &types.PendingOrder{
		RequestID: requestID,
		Canonical: string(canonical),
		Hash:      hex.EncodeToString(sum[:]),
	}

	var payload exchangeOrderPayload
	if err := json.Unmarshal(args[0], &payload); err == nil && len(payload.Msgs) > 0 {
		msg := payload.Msgs[0]
		if len(msg.Inputs) > 0 {
			order.From = msg.Inputs[0].Address
			if len(msg.Inputs[0].Coins) > 0 {
				order.Amount = msg.Inputs[0].Coins[0].Amount.String()
				order.Symbol = msg.Inputs[0].Coins[0].Denom
			}
		}
		if len(msg.Outputs) > 0 {
			order.To = msg.Outputs[0].Address
		}
	}
	return order, nil
}
