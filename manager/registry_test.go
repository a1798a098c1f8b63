package manager

import (
	"testing"
	"time"

	"github.com/peerwallet-project/walletbridge/types"
)

func registryKey(topic string) types.SessionKey {
	return types.SessionKey{Topic: topic, Version: 1, Bridge: "https://bridge.example.org", Key: "a1b2c3d4"}
}

func TestPutIfAbsent(t *testing.T) {
	r := NewRegistry()
	key := registryKey("t1")

	if !r.PutIfAbsent(&types.Session{Key: key}) {
		t.Fatal("Expected first put to succeed")
	}
	if r.PutIfAbsent(&types.Session{Key: key}) {
		t.Fatal("Expected second put for the same key to fail")
	}
	if r.Len() != 1 {
		t.Fatalf("Expected 1 session, got %d", r.Len())
	}
}

func TestSetPendingNeverOverwrites(t *testing.T) {
	r := NewRegistry()
	key := registryKey("t1")
	r.PutIfAbsent(&types.Session{Key: key})

	first := &types.SignRequest{Kind: types.PendingKindTransaction, Tx: &types.PendingTransaction{RequestID: 1}}
	if !r.SetPending(key, first) {
		t.Fatal("Expected first pending to be accepted")
	}
	second := &types.SignRequest{Kind: types.PendingKindTransaction, Tx: &types.PendingTransaction{RequestID: 2}}
	if r.SetPending(key, second) {
		t.Fatal("Expected second pending to be refused while one is live")
	}

	got := r.TakePending(key)
	if got == nil || got.RequestID() != 1 {
		t.Fatalf("Expected to take the first pending, got %+v", got)
	}
	if r.TakePending(key) != nil {
		t.Fatal("Expected pending to be consumed")
	}
}

func TestTakePendingKindMismatch(t *testing.T) {
	r := NewRegistry()
	key := registryKey("t1")
	r.PutIfAbsent(&types.Session{Key: key})
	r.SetPending(key, &types.SignRequest{Kind: types.PendingKindMessage, Message: &types.PendingMessage{RequestID: 1}})

	if r.TakePendingKind(key, types.PendingKindTransaction) != nil {
		t.Fatal("Expected kind mismatch to leave the pending in place")
	}
	if r.Get(key).Pending == nil {
		t.Fatal("Expected pending to survive a mismatched take")
	}
	if r.TakePendingKind(key, types.PendingKindMessage) == nil {
		t.Fatal("Expected matching take to consume the pending")
	}
}

func TestClearPendingMatchesRequestID(t *testing.T) {
	r := NewRegistry()
	key := registryKey("t1")
	r.PutIfAbsent(&types.Session{Key: key})
	r.SetPending(key, &types.SignRequest{Kind: types.PendingKindTransaction, Tx: &types.PendingTransaction{RequestID: 7}})

	r.ClearPending(key, 99)
	if r.Get(key).Pending == nil {
		t.Fatal("Expected mismatched request id to leave the pending")
	}
	r.ClearPending(key, 7)
	if r.Get(key).Pending != nil {
		t.Fatal("Expected matching request id to clear the pending")
	}
}

func TestFindSimilarMatchesByPublicKey(t *testing.T) {
	r := NewRegistry()
	peer := &types.PeerMeta{Name: "dapp", URL: "https://dapp.example.org"}
	binding := types.WalletBinding{PublicKey: "0xABCDEF"}

	a := registryKey("a")
	b := registryKey("b")
	r.PutIfAbsent(&types.Session{Key: a, Peer: peer, Binding: binding})
	r.PutIfAbsent(&types.Session{Key: b, Peer: peer, Binding: types.WalletBinding{PublicKey: "0xabcdef"}})

	similar := r.FindSimilar(AccountOf(binding), peer.URL, a)
	if len(similar) != 1 || similar[0].Key != b {
		t.Fatalf("Expected the case-insensitive pubkey match, got %d sessions", len(similar))
	}
}

func TestFindSimilarSkipsPendingSessions(t *testing.T) {
	r := NewRegistry()
	binding := types.WalletBinding{Address: "0x1111111111111111111111111111111111111111"}

	a := registryKey("a")
	b := registryKey("b")
	r.PutIfAbsent(&types.Session{Key: a, Peer: &types.PeerMeta{URL: "https://dapp.example.org"}, Binding: binding})
	// Session b never completed its handshake; it has no peer to compare.
	r.PutIfAbsent(&types.Session{Key: b, Binding: binding})

	similar := r.FindSimilar(AccountOf(binding), "https://dapp.example.org", registryKey("c"))
	if len(similar) != 1 || similar[0].Key != a {
		t.Fatalf("Expected only the handshaken session, got %d", len(similar))
	}
}

func TestExpireHandshakeRace(t *testing.T) {
	r := NewRegistry()
	key := registryKey("t1")
	r.PutIfAbsent(&types.Session{Key: key})

	timer := time.NewTimer(time.Hour)
	r.SetHandshakeTimer(key, timer)

	// Handshake wins: expiry must become a no-op.
	if r.CompleteHandshake(key, "remote", &types.PeerMeta{Name: "dapp"}) == nil {
		t.Fatal("Expected handshake to complete")
	}
	if r.ExpireHandshake(key) != nil {
		t.Fatal("Expected expiry after handshake to be a no-op")
	}
	if !r.Has(key) {
		t.Fatal("Expected handshaken session to survive")
	}
}

func TestSetHandshakeTimerOnGoneSession(t *testing.T) {
	r := NewRegistry()
	key := registryKey("gone")

	timer := time.NewTimer(time.Hour)
	r.SetHandshakeTimer(key, timer)

	// The timer must have been stopped for the missing session.
	if timer.Stop() {
		t.Fatal("Expected timer to already be stopped")
	}
}
