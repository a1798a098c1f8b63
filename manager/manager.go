package manager

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/peerwallet-project/walletbridge/bridge"
	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/store"
	"github.com/peerwallet-project/walletbridge/types"
)

// DefaultHandshakeTimeout is how long a pending session waits for the
// remote peer before it is torn down.
const DefaultHandshakeTimeout = 20 * time.Second

// TransportFactory constructs one bridge client per session and wires its
// inbound handler. Both fresh connects and restores go through it.
type TransportFactory func(key types.SessionKey, handler bridge.Handler) (types.Transport, error)

// SigningService is the two-phase signing contract the dispatcher drives:
// prepare produces a reviewable payload, execute produces a signature.
type SigningService interface {
	PrepareTransaction(ctx context.Context, binding types.WalletBinding, requestID int64, req bridge.TxRequestParams, signOnly bool) (*types.PendingTransaction, error)
	ExecuteTransaction(ctx context.Context, binding types.WalletBinding, chainID int64, p *types.PendingTransaction) (string, error)
	SignHash(binding types.WalletBinding, hash []byte) ([]byte, error)
	DeriveAddress(binding types.WalletBinding) (string, error)
}

// Config tunes the manager.
type Config struct {
	// HandshakeTimeout bounds the wait for the remote handshake half.
	HandshakeTimeout time.Duration

	// DefaultChainID is used when a binding's chain exposes no id.
	DefaultChainID int64

	// ChainID resolves a chain name to its id; nil means always default.
	ChainID func(chain string) int64

	// WalletMeta is the wallet's own peer metadata sent in approvals.
	WalletMeta *types.PeerMeta

	// EventBuffer sizes the outbound event channel.
	EventBuffer int
}

// RestoreFailure reports one session that could not be restored.
type RestoreFailure struct {
	Key types.SessionKey
	Err error
}

// Manager owns the session registry and orchestrates the lifecycle and
// request flow between the bridge, the signing service and the store.
type Manager struct {
	registry *Registry
	factory  TransportFactory
	signer   SigningService
	store    store.SessionStore
	cfg      Config
	events   chan types.Event
	log      *logger.Logger
}

// New creates a manager. factory, signer and sessionStore are required.
func New(factory TransportFactory, signer SigningService, sessionStore store.SessionStore, cfg Config, log *logger.Logger) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.DefaultChainID == 0 {
		cfg.DefaultChainID = 1
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if log == nil {
		log = logger.Global().WithComponent("manager")
	}
	return &Manager{
		registry: NewRegistry(),
		factory:  factory,
		signer:   signer,
		store:    sessionStore,
		cfg:      cfg,
		events:   make(chan types.Event, cfg.EventBuffer),
		log:      log,
	}
}

// Events is the outbound notification channel consumed by the UI layer.
func (m *Manager) Events() <-chan types.Event {
	return m.events
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []*types.Session {
	return m.registry.List()
}

// Connect parses a connection URI, registers a pending session and arms
// the handshake timeout. Calling it twice with the same URI before
// approval is an idempotent no-op signalled as SESSION_ALREADY_ACTIVE.
func (m *Manager) Connect(ctx context.Context, uri string, binding types.WalletBinding) (types.SessionKey, error) {
	key, err := bridge.ParseURI(uri)
	if err != nil {
		return key, types.NewBridgeError(types.ErrCodeInvalidURI, "unparseable connection uri", err)
	}

	if m.registry.Has(key) {
		return key, types.NewBridgeError(types.ErrCodeSessionAlreadyActive, "session already active", nil)
	}

	transport, err := m.factory(key, m.handlerFor(key))
	if err != nil {
		return key, types.NewBridgeError(types.ErrCodeBridgeFailed, "bridge client construction failed", err)
	}

	s := &types.Session{
		LocalPeerID: uuid.NewString(),
		Key:         key,
		Binding:     binding,
		Transport:   transport,
	}

	if !m.registry.PutIfAbsent(s) {
		// Lost a connect race for the same URI; the winner owns the key.
		transport.Close()
		return key, types.NewBridgeError(types.ErrCodeSessionAlreadyActive, "session already active", nil)
	}

	if err := transport.SendSessionRequest(s.LocalPeerID, "", m.cfg.WalletMeta); err != nil {
		if removed := m.registry.Delete(key); removed != nil {
			removed.Transport.Close()
		}
		return key, types.NewBridgeError(types.ErrCodeBridgeFailed, "handshake initiation failed", err)
	}

	timer := time.AfterFunc(m.cfg.HandshakeTimeout, func() {
		m.expireHandshake(key)
	})
	m.registry.SetHandshakeTimer(key, timer)

	m.log.WithSession(key.Topic).Info("session pending")
	return key, nil
}

// expireHandshake is the timeout fire path. The registry re-checks peer
// metadata under its lock, so a handshake that slipped in first makes
// this a no-op.
func (m *Manager) expireHandshake(key types.SessionKey) {
	s := m.registry.ExpireHandshake(key)
	if s == nil {
		return
	}
	s.Transport.Close()
	m.log.WithSession(key.Topic).Warn("handshake timed out")
	m.emit(types.NewEvent(types.EventHandshakeTimeout, key))
}

// Restore reloads every persisted session and reconnects it with peer
// metadata already populated and the previously learned remote peer id;
// no renegotiation happens. Restore is best-effort: sessions that fail
// come back as RestoreFailures and the rest proceed.
func (m *Manager) Restore(ctx context.Context) ([]types.PersistedSession, []RestoreFailure, error) {
	persisted, err := m.store.LoadAll(ctx)
	if err != nil {
		return nil, nil, types.NewBridgeError(types.ErrCodeStoreFailed, "session load failed", err)
	}

	var restored []types.PersistedSession
	var failures []RestoreFailure

	for _, p := range persisted {
		transport, err := m.factory(p.Key, m.handlerFor(p.Key))
		if err != nil {
			m.log.WithSession(p.Key.Topic).Error("restore failed", err)
			failures = append(failures, RestoreFailure{Key: p.Key, Err: err})
			continue
		}

		s := &types.Session{
			LocalPeerID:  p.LocalPeerID,
			RemotePeerID: p.RemotePeerID,
			Key:          p.Key,
			Peer:         p.Peer,
			Binding:      p.Binding,
			Transport:    transport,
		}
		if !m.registry.PutIfAbsent(s) {
			transport.Close()
			failures = append(failures, RestoreFailure{Key: p.Key,
				Err: types.NewBridgeError(types.ErrCodeSessionAlreadyActive, "session already active", nil)})
			continue
		}
		if err := transport.SendSessionRequest(p.LocalPeerID, p.RemotePeerID, m.cfg.WalletMeta); err != nil {
			if removed := m.registry.Delete(p.Key); removed != nil {
				removed.Transport.Close()
			}
			failures = append(failures, RestoreFailure{Key: p.Key, Err: err})
			continue
		}
		restored = append(restored, p)
	}

	ev := types.Event{Type: types.EventSessionsRestored, Restored: restored, Timestamp: time.Now()}
	m.emit(ev)
	m.log.Infof("restored %d of %d sessions", len(restored), len(persisted))
	return restored, failures, nil
}

// Approve finalizes a handshaken session: supersede duplicates, reply
// with the wallet's address and chain id, persist. Approving an unknown
// or still-pending session is a no-op. A persistence failure is returned
// but the in-memory approval stands; the dApp already holds the reply.
func (m *Manager) Approve(ctx context.Context, key types.SessionKey) error {
	s := m.registry.Get(key)
	if s == nil || !s.Handshaken() {
		m.log.WithSession(key.Topic).Debug("approve ignored: unknown or pending session")
		return nil
	}

	m.RemoveSimilarSessions(ctx, s)

	addr, err := m.signer.DeriveAddress(s.Binding)
	if err != nil {
		return err
	}

	ok, err := s.Transport.ApproveSession([]string{addr}, m.chainID(s.Binding.Chain))
	if err != nil {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "approval reply failed", err)
	}
	if !ok {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "approval not acknowledged", nil)
	}

	storeErr := m.store.Save(ctx, s.Persist())
	if storeErr != nil {
		m.log.WithSession(key.Topic).Error("persisting approved session failed", storeErr)
	}

	ev := types.NewEvent(types.EventSessionApproved, key)
	ev.Peer = s.Peer
	m.emit(ev)
	m.log.WithSession(key.Topic).Info("session approved")

	if storeErr != nil {
		return types.NewBridgeError(types.ErrCodeStoreFailed, "session not persisted", storeErr)
	}
	return nil
}

// UpdateWalletBinding mutates an existing session's wallet binding in
// place. No renegotiation, no persistence of its own; durability catches
// up on the next approve or disconnect driven write.
func (m *Manager) UpdateWalletBinding(key types.SessionKey, binding types.WalletBinding) error {
	if !m.registry.UpdateBinding(key, binding) {
		return types.NewBridgeError(types.ErrCodeSessionNotFound, "no such session", nil)
	}
	return nil
}

// Disconnect requests bridge-level termination. Teardown is gated on the
// reply: a failed kill leaves the session live so the caller may retry.
func (m *Manager) Disconnect(ctx context.Context, key types.SessionKey) error {
	s := m.registry.Get(key)
	if s == nil {
		return types.NewBridgeError(types.ErrCodeSessionNotFound, "no such session", nil)
	}

	ok, err := s.Transport.KillSession()
	if err != nil {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "kill request failed", err)
	}
	if !ok {
		return types.NewBridgeError(types.ErrCodeBridgeFailed, "kill not acknowledged", nil)
	}

	m.teardown(ctx, key)
	m.log.WithSession(key.Topic).Info("session disconnected")
	return nil
}

// RemoveSimilarSessions disconnects every other live session bound to the
// same account and the same peer origin URL. Newest wins; the older
// sessions from the same dApp/wallet pair are superseded.
func (m *Manager) RemoveSimilarSessions(ctx context.Context, s *types.Session) {
	if s.Peer == nil {
		return
	}
	for _, dup := range m.registry.FindSimilar(AccountOf(s.Binding), s.Peer.URL, s.Key) {
		if _, err := dup.Transport.KillSession(); err != nil {
			m.log.WithSession(dup.Key.Topic).Warnf("kill of superseded session failed: %v", err)
		}
		m.teardown(ctx, dup.Key)
		m.log.WithSession(dup.Key.Topic).Info("superseded by newer session")
	}
}

// teardown removes a session from the registry and the store and raises
// SessionClosed. Safe to call when the entry is already gone.
func (m *Manager) teardown(ctx context.Context, key types.SessionKey) {
	s := m.registry.Delete(key)
	if s == nil {
		return
	}
	s.Transport.Close()
	if err := m.store.Remove(ctx, key); err != nil {
		m.log.WithSession(key.Topic).Error("persisted session removal failed", err)
	}
	m.emit(types.NewEvent(types.EventSessionClosed, key))
}

// chainID resolves a binding chain name, falling back to the default.
func (m *Manager) chainID(chain string) int64 {
	if m.cfg.ChainID != nil {
		if id := m.cfg.ChainID(chain); id != 0 {
			return id
		}
	}
	return m.cfg.DefaultChainID
}

// emit delivers an event without ever blocking a callback path. A full
// sink drops the event with a warning.
func (m *Manager) emit(ev types.Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warnf("event sink full, dropping %s", ev.Type)
	}
}

// handlerFor binds the dispatcher to one session key.
func (m *Manager) handlerFor(key types.SessionKey) bridge.Handler {
	return func(in bridge.Inbound) {
		m.dispatch(key, in)
	}
}
