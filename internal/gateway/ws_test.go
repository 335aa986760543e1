package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

// dialPreview opens a preview socket against a live test server.
func dialPreview(t *testing.T, ts *testServer, userID string) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(ts.srv.Handler())
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/preview?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial preview ws: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, server
}

func TestHandlePreviewWS_WhenUserIDMissing_ShouldReturn400(t *testing.T) {
	ts := newTestServer(t, nil)
	server := httptest.NewServer(ts.srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws/preview")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("want 400, got %d", resp.StatusCode)
	}
}

func TestHandlePreviewWS_WhenHubDisabled_ShouldReturn503(t *testing.T) {
	ts := newTestServer(t, func(cfg *domain.Config, deps *Deps) {
		deps.Hub = nil
	})
	server := httptest.NewServer(ts.srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws/preview?userId=u1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("want 503, got %d", resp.StatusCode)
	}
}

func TestHandlePreviewWS_ShouldRegisterConnectionInHub(t *testing.T) {
	ts := newTestServer(t, nil)
	dialPreview(t, ts, "u1")

	waitFor(t, func() bool { return ts.hub.Count("u1") == 1 })
}

func TestHandlePreviewWS_OnBroadcast_ShouldPushReloadEvent(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := dialPreview(t, ts, "u1")
	waitFor(t, func() bool { return ts.hub.Count("u1") == 1 })

	ts.hub.Broadcast("u1")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reload event: %v", err)
	}
	var event struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event %q: %v", payload, err)
	}
	if event.Type != "reload" {
		t.Errorf("want reload event, got %q", payload)
	}
}

func TestHandlePreviewWS_OnDisconnect_ShouldLeaveHub(t *testing.T) {
	ts := newTestServer(t, nil)
	conn, _ := dialPreview(t, ts, "u1")
	waitFor(t, func() bool { return ts.hub.Count("u1") == 1 })

	conn.Close()

	waitFor(t, func() bool { return ts.hub.Count("u1") == 0 })
}

func TestHandlePreviewWS_ShouldIsolateProspects(t *testing.T) {
	ts := newTestServer(t, nil)
	connA, _ := dialPreview(t, ts, "u1")
	connB, _ := dialPreview(t, ts, "u2")
	waitFor(t, func() bool { return ts.hub.Count("u1") == 1 && ts.hub.Count("u2") == 1 })

	ts.hub.Broadcast("u1")

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := connA.ReadMessage(); err != nil {
		t.Fatalf("u1 should receive the reload: %v", err)
	}
	connB.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, _, err := connB.ReadMessage(); err == nil {
		t.Error("u2 must not receive u1's reload")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
