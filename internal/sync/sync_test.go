package sync

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://cloud.example/api", "wss://cloud.example/ws"},
	}
	for _, tt := range tests {
		got, err := WebsocketURL(tt.base, "/ws")
		if err != nil || got != tt.want {
			t.Errorf("WebsocketURL(%q) = %q, %v", tt.base, got, err)
		}
	}
}

func TestWSPublishReachesOnlyOwner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/ws", WSHandler(hub, func(c *gin.Context) string {
		return strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}))
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL, _ := WebsocketURL(srv.URL, "/ws")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan TitlesEvent, 4)
	for _, uid := range []string{"alice", "bob"} {
		uid := uid
		go func() {
			_ = WatchWS(ctx, wsURL, uid, func(e TitlesEvent) {
				if e.UserID != uid {
					t.Errorf("%s received event for %s", uid, e.UserID)
				}
				got <- e
			})
		}()
	}
	waitFor(t, func() bool { return hub.Stats().WSClients == 2 })

	hub.Publish(TitlesEvent{Type: TitlesSyncedType, UserID: "alice", Count: 3})

	select {
	case e := <-got:
		if e.UserID != "alice" || e.Count != 3 || e.At.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case e := <-got:
		t.Fatalf("unexpected second event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTCPSubscribe(t *testing.T) {
	hub := NewHub()
	srv := NewServer("127.0.0.1:0", hub, func(ctx context.Context, token string) (string, error) {
		if token != "good" {
			return "", errors.New("nope")
		}
		return "alice", nil
	})
	go func() { _ = srv.Run() }()
	defer srv.Close()
	waitFor(t, func() bool { return srv.ListenAddr() != nil })
	addr := srv.ListenAddr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := WatchTCP(ctx, addr, "bad", func(TitlesEvent) {}); err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("bad token err = %v", err)
	}

	got := make(chan TitlesEvent, 1)
	go func() {
		_ = WatchTCP(ctx, addr, "good", func(e TitlesEvent) { got <- e })
	}()
	waitFor(t, func() bool { return hub.Stats().TCPClients == 1 })

	hub.Publish(TitlesEvent{Type: TitleDeletedType, UserID: "alice", TitleID: "t1"})
	select {
	case e := <-got:
		if e.TitleID != "t1" {
			t.Fatalf("event = %+v", e)
		}
	case <-ctx.Done():
		t.Fatal("no event delivered")
	}
}
