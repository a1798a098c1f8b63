// Package manager is the session and signing-request orchestration layer:
// an in-memory registry of live dApp sessions, the lifecycle controller
// (connect, approve, restore, disconnect) and the inbound request
// dispatcher.
package manager

import (
	"strings"
	"sync"
	"time"

	"github.com/peerwallet-project/walletbridge/types"
)

// Registry is the in-memory map of session key -> live session. It
// exclusively owns every session record and its transport handle. All
// reads and writes go through one mutex; callbacks and controller calls
// run concurrently and whichever reaches a mutation first wins, the loser
// observing a missing entry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*types.Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*types.Session)}
}

// PutIfAbsent registers a session unless its key is already present.
// Returns false when an entry already exists (the double-connect guard).
func (r *Registry) PutIfAbsent(s *types.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := s.Key.String()
	if _, exists := r.sessions[id]; exists {
		return false
	}
	r.sessions[id] = s
	return true
}

// Get returns the session for a key, or nil.
func (r *Registry) Get(key types.SessionKey) *types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[key.String()]
}

// Has reports whether a key is registered.
func (r *Registry) Has(key types.SessionKey) bool {
	return r.Get(key) != nil
}

// Delete removes a session and returns it, or nil when absent.
func (r *Registry) Delete(key types.SessionKey) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := key.String()
	s := r.sessions[id]
	delete(r.sessions, id)
	return s
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CompleteHandshake populates peer metadata and the remote peer id for a
// pending session, stopping its handshake timer. The transition happens
// at most once; a second handshake response is ignored. Returns the
// session when the transition happened, nil otherwise.
func (r *Registry) CompleteHandshake(key types.SessionKey, remotePeerID string, meta *types.PeerMeta) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil || s.Peer != nil {
		return nil
	}
	s.Peer = meta
	s.RemotePeerID = remotePeerID
	if s.HandshakeTimer != nil {
		s.HandshakeTimer.Stop()
		s.HandshakeTimer = nil
	}
	return s
}

// ExpireHandshake removes a session whose handshake never completed.
// Returns the session when it was actually expired; nil when the session
// is gone or already handshaken (the timer lost the race, a no-op).
func (r *Registry) ExpireHandshake(key types.SessionKey) *types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := key.String()
	s := r.sessions[id]
	if s == nil || s.Peer != nil {
		return nil
	}
	delete(r.sessions, id)
	return s
}

// SetHandshakeTimer attaches the teardown timer to a registered session.
// When the session is already gone (or already handshaken) the timer is
// stopped instead.
func (r *Registry) SetHandshakeTimer(key types.SessionKey, t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil || s.Peer != nil {
		t.Stop()
		return
	}
	s.HandshakeTimer = t
}

// UpdateBinding mutates a session's wallet binding in place.
func (r *Registry) UpdateBinding(key types.SessionKey, binding types.WalletBinding) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil {
		return false
	}
	s.Binding = binding
	return true
}

// SetPending attaches a signing payload to a session. Returns false when
// the session is gone or another payload is still awaiting a decision; a
// new request never overwrites a live one.
func (r *Registry) SetPending(key types.SessionKey, req *types.SignRequest) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil || s.Pending != nil {
		return false
	}
	s.Pending = req
	return true
}

// TakePending consumes the session's pending payload. Returns nil when
// there is none.
func (r *Registry) TakePending(key types.SessionKey) *types.SignRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil || s.Pending == nil {
		return nil
	}
	p := s.Pending
	s.Pending = nil
	return p
}

// TakePendingKind consumes the pending payload only when it is of the
// given kind. Returns nil otherwise.
func (r *Registry) TakePendingKind(key types.SessionKey, kind types.PendingKind) *types.SignRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil || s.Pending == nil || s.Pending.Kind != kind {
		return nil
	}
	p := s.Pending
	s.Pending = nil
	return p
}

// ClearPending drops the pending payload when it carries the given
// request id. Used by the accept/reject pass-throughs.
func (r *Registry) ClearPending(key types.SessionKey, requestID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[key.String()]
	if s == nil || s.Pending == nil {
		return
	}
	if s.Pending.RequestID() == requestID {
		s.Pending = nil
	}
}

// FindSimilar returns live sessions bound to the same account and the
// same peer origin URL but a different key. Origin matching is a string
// comparison and therefore a heuristic: two distinct dApps behind one
// reverse-proxy origin would collide.
func (r *Registry) FindSimilar(account, peerURL string, exclude types.SessionKey) []*types.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account = strings.ToLower(account)
	peerURL = strings.ToLower(peerURL)
	excludeID := exclude.String()

	var out []*types.Session
	for id, s := range r.sessions {
		if id == excludeID || s.Peer == nil {
			continue
		}
		if AccountOf(s.Binding) == account && strings.ToLower(s.Peer.URL) == peerURL {
			out = append(out, s)
		}
	}
	return out
}

// AccountOf is the account identity a binding is compared by: the bound
// address when present, its public key otherwise.
func AccountOf(b types.WalletBinding) string {
	if b.Address != "" {
		return strings.ToLower(b.Address)
	}
	return strings.ToLower(b.PublicKey)
}
