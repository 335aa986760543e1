package preview

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// reloadMessage is pushed to every connection of a prospect whose files
// changed. The browser side only ever looks at the type field.
var reloadMessage = []byte(`{"type":"reload"}`)

// Hub tracks live preview connections per prospect and pushes reload events
// to them. Connections are registered by the WebSocket handler and dropped on
// the first failed write.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]map[*websocket.Conn]struct{}
	logger *slog.Logger
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]map[*websocket.Conn]struct{}),
		logger: logger,
	}
}

func (h *Hub) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// Add registers a connection for a prospect.
func (h *Hub) Add(prospectID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[prospectID]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.conns[prospectID] = set
	}
	set[conn] = struct{}{}
}

// Remove unregisters a connection. Safe to call for connections the hub has
// already dropped.
func (h *Hub) Remove(prospectID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(prospectID, conn)
}

func (h *Hub) removeLocked(prospectID string, conn *websocket.Conn) {
	set, ok := h.conns[prospectID]
	if !ok {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, prospectID)
	}
}

// Broadcast pushes a reload event to every connection of the prospect. Writes
// happen under the hub lock, which also serializes writers per connection.
// A connection that fails to take the write is closed and dropped.
func (h *Hub) Broadcast(prospectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.conns[prospectID]
	if len(set) == 0 {
		return
	}
	for conn := range set {
		if err := conn.WriteMessage(websocket.TextMessage, reloadMessage); err != nil {
			h.log().Debug("dropping dead preview connection", "prospect", prospectID, "error", err)
			conn.Close()
			h.removeLocked(prospectID, conn)
		}
	}
}

// Count reports how many live connections a prospect has.
func (h *Hub) Count(prospectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[prospectID])
}
