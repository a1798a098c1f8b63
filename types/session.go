package types

import (
	"fmt"
	"math/big"
	"net/url"
	"time"
)

// SessionKey uniquely identifies one dApp handshake. It is derived from the
// connection URI and compared structurally.
type SessionKey struct {
	Topic   string `json:"topic"`
	Version int    `json:"version"`
	Bridge  string `json:"bridge"`
	Key     string `json:"key"` // symmetric key, hex
}

// String renders the key back into its canonical wc: URI form.
func (k SessionKey) String() string {
	return fmt.Sprintf("wc:%s@%d?bridge=%s&key=%s",
		k.Topic, k.Version, url.QueryEscape(k.Bridge), k.Key)
}

// IsZero reports whether the key is unset.
func (k SessionKey) IsZero() bool {
	return k.Topic == "" && k.Bridge == "" && k.Key == ""
}

// PeerMeta is the dApp-supplied descriptive record. It is nil on a Session
// until the remote peer answers the handshake.
type PeerMeta struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

// WalletBinding is the wallet/account/chain context a session is scoped to.
// It may be updated in place without renegotiating the handshake.
type WalletBinding struct {
	Address        string `json:"address"`
	PublicKey      string `json:"publicKey"` // uncompressed hex (0x04... 65B)
	DerivationPath string `json:"derivationPath,omitempty"`
	Chain          string `json:"chain"`
	Testnet        bool   `json:"testnet,omitempty"`
}

// PendingKind discriminates the pending signing payload variants.
type PendingKind string

const (
	PendingKindTransaction PendingKind = "transaction"
	PendingKindMessage     PendingKind = "message"
	PendingKindOrder       PendingKind = "order"
)

// PendingTransaction is a prepared, reviewable, not-yet-signed transaction.
// Fee fields are filled by the signing service's prepare step.
type PendingTransaction struct {
	RequestID int64    `json:"requestId"`
	From      string   `json:"from"`
	To        string   `json:"to,omitempty"`
	Value     *big.Int `json:"value"`
	GasLimit  uint64   `json:"gasLimit"`
	GasPrice  *big.Int `json:"gasPrice"`
	Nonce     uint64   `json:"nonce"`
	Data      []byte   `json:"data,omitempty"`
	Fee       *big.Int `json:"fee"`
	Total     *big.Int `json:"total"`
	SignOnly  bool     `json:"signOnly"` // eth_signTransaction: sign without broadcasting
}

// PendingMessage is a personal-sign or typed-data request awaiting review.
// Preview is best-effort human-readable; Hash is what gets signed.
type PendingMessage struct {
	RequestID int64  `json:"requestId"`
	Raw       string `json:"raw"`
	Hash      string `json:"hash"`
	Preview   string `json:"preview"`
	TypedData bool   `json:"typedData"`
}

// PendingOrder is a decoded exchange trade/transfer order.
type PendingOrder struct {
	RequestID int64  `json:"requestId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Symbol    string `json:"symbol"`
	Canonical string `json:"canonical"` // canonical JSON serialization
	Hash      string `json:"hash"`      // hash of Canonical
}

// SignRequest is the at-most-one pending signing payload attached to a
// session. Exactly one of Tx, Message, Order is set, matching Kind.
type SignRequest struct {
	Kind    PendingKind         `json:"kind"`
	Tx      *PendingTransaction `json:"tx,omitempty"`
	Message *PendingMessage     `json:"message,omitempty"`
	Order   *PendingOrder       `json:"order,omitempty"`
}

// RequestID returns the bridge request id of whichever payload is set.
func (r *SignRequest) RequestID() int64 {
	switch r.Kind {
	case PendingKindTransaction:
		return r.Tx.RequestID
	case PendingKindMessage:
		return r.Message.RequestID
	case PendingKindOrder:
		return r.Order.RequestID
	}
	return 0
}

// Session is one live dApp connection. The registry exclusively owns every
// Session and its transport handle; nothing else holds a long-lived
// reference to either.
//
// Peer transitions nil -> non-nil exactly once, on the first handshake
// response, and never reverts while the session exists.
type Session struct {
	LocalPeerID  string
	RemotePeerID string
	Key          SessionKey
	Peer         *PeerMeta
	Binding      WalletBinding
	Pending      *SignRequest

	// Transport is the live bridge connection for this session.
	Transport Transport

	// HandshakeTimer is the explicit teardown timer armed on Connect and
	// stopped on the handshake transition.
	HandshakeTimer *time.Timer
}

// Handshaken reports whether the remote peer has answered the handshake.
func (s *Session) Handshaken() bool {
	return s.Peer != nil
}

// Persist builds the durable projection of an approved session.
func (s *Session) Persist() PersistedSession {
	return PersistedSession{
		LocalPeerID:  s.LocalPeerID,
		RemotePeerID: s.RemotePeerID,
		Key:          s.Key,
		Binding:      s.Binding,
		Peer:         s.Peer,
	}
}

// PersistedSession is the durable projection of an approved session,
// reloadable after process restart.
type PersistedSession struct {
	LocalPeerID  string        `json:"localPeerId"`
	RemotePeerID string        `json:"remotePeerId"`
	Key          SessionKey    `json:"key"`
	Binding      WalletBinding `json:"binding"`
	Peer         *PeerMeta     `json:"peer"`
}

// Transport is the per-session bridge client handle. Implementations carry
// the live relay connection; the manager only sees reply primitives.
type Transport interface {
	// SendSessionRequest initiates the handshake with the remote peer.
	// On a restore remotePeerID carries the previously learned peer
	// channel so replies resume addressing it without renegotiation; on
	// a fresh connect it is empty and learned from the handshake.
	SendSessionRequest(localPeerID, remotePeerID string, meta *PeerMeta) error

	// ApproveSession answers the handshake with the wallet's accounts and
	// chain id. The returned bool is the remote acknowledgement.
	ApproveSession(accounts []string, chainID int64) (bool, error)

	// RejectSession answers the handshake negatively.
	RejectSession(reason string) error

	// ApproveRequest replies to a single request id with a result.
	ApproveRequest(id int64, result interface{}) error

	// RejectRequest replies to a single request id with a standard
	// protocol rejection.
	RejectRequest(id int64) error

	// KillSession requests bridge-level termination. The returned bool is
	// the remote acknowledgement; teardown is gated on it.
	KillSession() (bool, error)

	// Close releases the underlying connection without any protocol
	// exchange. Used for timeout teardown.
	Close() error
}
