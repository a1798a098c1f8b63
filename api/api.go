// Package api is the thin HTTP facade the wallet UI talks to, plus a
// websocket feed that forwards manager events. It carries no rendering or
// navigation logic; it is only the control/notification surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/manager"
	"github.com/peerwallet-project/walletbridge/types"
)

// Server exposes the session manager over HTTP.
type Server struct {
	manager *manager.Manager
	feed    *EventFeed
	log     *logger.Logger
}

// NewServer wires the facade and starts forwarding manager events to the
// websocket feed.
func NewServer(m *manager.Manager, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Global().WithComponent("api")
	}
	s := &Server{
		manager: m,
		feed:    NewEventFeed(log),
		log:     log,
	}
	go s.forwardEvents()
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/approve", s.handleApprove)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/binding", s.handleUpdateBinding)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sign/complete", s.handleCompleteSigning)
	mux.HandleFunc("/sign/reject", s.handleRejectRequest)
	mux.HandleFunc("/events", s.feed.HandleWebSocket)
	return mux
}

// forwardEvents pushes every manager event onto the websocket feed.
func (s *Server) forwardEvents() {
	for ev := range s.manager.Events() {
		s.feed.Broadcast(ev)
	}
}

type connectRequest struct {
	URI     string              `json:"uri"`
	Binding types.WalletBinding `json:"binding"`
}

type keyRequest struct {
	Key       types.SessionKey `json:"key"`
	RequestID int64            `json:"requestId,omitempty"`
}

type apiResponse struct {
	OK    bool             `json:"ok"`
	Key   types.SessionKey `json:"key,omitempty"`
	Error string           `json:"error,omitempty"`
	Code  string           `json:"code,omitempty"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !decodePost(w, r, &req) {
		return
	}
	key, err := s.manager.Connect(r.Context(), req.URI, req.Binding)
	writeResult(w, key, err)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeResult(w, req.Key, s.manager.Approve(r.Context(), req.Key))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeResult(w, req.Key, s.manager.Disconnect(r.Context(), req.Key))
}

func (s *Server) handleUpdateBinding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key     types.SessionKey    `json:"key"`
		Binding types.WalletBinding `json:"binding"`
	}
	if !decodePost(w, r, &req) {
		return
	}
	writeResult(w, req.Key, s.manager.UpdateWalletBinding(req.Key, req.Binding))
}

func (s *Server) handleCompleteSigning(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeResult(w, req.Key, s.manager.CompleteSigning(r.Context(), req.Key))
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	var req keyRequest
	if !decodePost(w, r, &req) {
		return
	}
	writeResult(w, req.Key, s.manager.RejectRequest(req.Key, req.RequestID))
}

// sessionView is the read shape for /sessions.
type sessionView struct {
	Key     types.SessionKey    `json:"key"`
	Peer    *types.PeerMeta     `json:"peer,omitempty"`
	Binding types.WalletBinding `json:"binding"`
	Pending *types.SignRequest  `json:"pending,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	views := []sessionView{}
	for _, sess := range s.manager.Sessions() {
		views = append(views, sessionView{
			Key:     sess.Key,
			Peer:    sess.Peer,
			Binding: sess.Binding,
			Pending: sess.Pending,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func decodePost(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, key types.SessionKey, err error) {
	w.Header().Set("Content-Type", "application/json")
	resp := apiResponse{OK: err == nil, Key: key}
	if err != nil {
		resp.Error = err.Error()
		var be *types.BridgeError
		if errors.As(err, &be) {
			resp.Code = be.Code
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
