package liveview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func newTestServer(t *testing.T, hub *Hub, campaignID string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		hub.Register(conn, campaignID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsOnlyToMatchingCampaign(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srvA := newTestServer(t, hub, "camp-a")
	srvB := newTestServer(t, hub, "camp-b")
	connA := dial(t, srvA)
	connB := dial(t, srvB)

	waitForClients(t, hub, 2)

	hub.Publish(Event{CampaignID: "camp-a", Kind: "promoted", At: time.Now()})

	connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := connA.ReadJSON(&ev); err != nil {
		t.Fatalf("expected campaign-a client to receive the event: %v", err)
	}
	if ev.CampaignID != "camp-a" || ev.Kind != "promoted" {
		t.Fatalf("unexpected event received: %+v", ev)
	}

	connB.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if err := connB.ReadJSON(&ev); err == nil {
		t.Fatal("expected campaign-b client to receive nothing for a camp-a event")
	}
}

func TestHubUnregisterDropsTheClient(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := newTestServer(t, hub, "camp-c")
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.Unregister(conn)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && hub.ClientCount() != 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected client count 0 after unregister, got %d", hub.ClientCount())
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d registered clients, have %d", n, hub.ClientCount())
}
