package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/peerwallet-project/walletbridge/logger"
	"github.com/peerwallet-project/walletbridge/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the facade binds to localhost; the UI is the only client
	},
}

// EventFeed broadcasts manager events to every connected UI client.
type EventFeed struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan types.Event
	log     *logger.Logger
}

// NewEventFeed creates an empty feed.
func NewEventFeed(log *logger.Logger) *EventFeed {
	return &EventFeed{
		clients: make(map[*websocket.Conn]chan types.Event),
		log:     log,
	}
}

// HandleWebSocket upgrades a UI connection and streams events to it.
func (f *EventFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Error("websocket upgrade failed", err)
		return
	}

	ch := make(chan types.Event, 16)
	f.mu.Lock()
	f.clients[conn] = ch
	f.mu.Unlock()

	go f.writePump(conn, ch)
	go f.readPump(conn)
}

// Broadcast fans an event out to every client; slow clients drop events
// rather than blocking the manager.
func (f *EventFeed) Broadcast(ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// writePump serializes events onto one client connection.
func (f *EventFeed) writePump(conn *websocket.Conn, ch chan types.Event) {
	defer f.drop(conn)

	for ev := range ch {
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// readPump discards client frames and notices disconnects.
func (f *EventFeed) readPump(conn *websocket.Conn) {
	defer f.drop(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// drop removes a client once.
func (f *EventFeed) drop(conn *websocket.Conn) {
	f.mu.Lock()
	ch, ok := f.clients[conn]
	if ok {
		delete(f.clients, conn)
		close(ch)
	}
	f.mu.Unlock()
	conn.Close()
}
