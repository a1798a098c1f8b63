package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peerwallet-project/walletbridge/bridge"
	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/manager"
	"github.com/peerwallet-project/walletbridge/store"
	"github.com/peerwallet-project/walletbridge/types"
)

// nopTransport satisfies types.Transport with affirmative answers.
type nopTransport struct{}

func (nopTransport) SendSessionRequest(string, string, *types.PeerMeta) error { return nil }
func (nopTransport) ApproveSession([]string, int64) (bool, error)             { return true, nil }
func (nopTransport) RejectSession(string) error                               { return nil }
func (nopTransport) ApproveRequest(int64, interface{}) error                  { return nil }
func (nopTransport) RejectRequest(int64) error                                { return nil }
func (nopTransport) KillSession() (bool, error)                               { return true, nil }
func (nopTransport) Close() error                                             { return nil }

func testServer(t *testing.T) *Server {
	t.Helper()
	log := logger.New("test")
	log.SetOutput(io.Discard)

	factory := func(key types.SessionKey, handler bridge.Handler) (types.Transport, error) {
		return nopTransport{}, nil
	}
	m := manager.New(factory, nil, store.NewMemoryStore(), manager.Config{}, log)
	return NewServer(m, log)
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestConnectEndpoint(t *testing.T) {
	h := testServer(t).Handler()

	w := postJSON(t, h, "/connect", map[string]interface{}{
		"uri": "wc:topic-1@1?bridge=https%3A%2F%2Fbridge.example.org&key=a1b2c3d4",
		"binding": types.WalletBinding{
			Address: "0x1111111111111111111111111111111111111111",
			Chain:   "ethereum",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.OK {
		t.Fatalf("Expected ok response, got %+v", resp)
	}
	if resp.Key.Topic != "topic-1" {
		t.Fatalf("Expected topic-1, got %q", resp.Key.Topic)
	}
}

func TestConnectEndpointBadURI(t *testing.T) {
	h := testServer(t).Handler()

	w := postJSON(t, h, "/connect", map[string]interface{}{"uri": "garbage"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", w.Code)
	}

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != types.ErrCodeInvalidURI {
		t.Fatalf("Expected INVALID_URI code, got %q", resp.Code)
	}
}

func TestSessionsEndpoint(t *testing.T) {
	s := testServer(t)
	h := s.Handler()

	postJSON(t, h, "/connect", map[string]interface{}{
		"uri": "wc:topic-1@1?bridge=https%3A%2F%2Fbridge.example.org&key=a1b2c3d4",
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var views []sessionView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(views))
	}
	if views[0].Key.Topic != "topic-1" {
		t.Fatalf("Expected topic-1, got %q", views[0].Key.Topic)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := testServer(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/connect", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Expected 405, got %d", w.Code)
	}
}

func TestDisconnectEndpointUnknownSession(t *testing.T) {
	h := testServer(t).Handler()

	w := postJSON(t, h, "/disconnect", map[string]interface{}{
		"key": types.SessionKey{Topic: "ghost", Version: 1},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422, got %d", w.Code)
	}

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != types.ErrCodeSessionNotFound {
		t.Fatalf("Expected SESSION_NOT_FOUND code, got %q", resp.Code)
	}
}
