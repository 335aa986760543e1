package gateway

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// wsUpgrader upgrades preview connections. Origin checking is the CORS
// layer's job for the API; the preview socket carries no secrets, only
// reload pings.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handlePreviewWS upgrades GET /ws/preview?userId= and parks the connection
// in the hub. The browser never sends anything meaningful; the read loop only
// exists to notice the tab closing. Pushes come from the file watcher via
// Hub.Broadcast.
func (s *Server) handlePreviewWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		http.Error(w, "preview channel disabled", http.StatusServiceUnavailable)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Warn("preview ws upgrade failed", "error", err)
		return
	}

	s.deps.Hub.Add(userID, conn)
	defer func() {
		s.deps.Hub.Remove(userID, conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
