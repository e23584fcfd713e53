package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"securechat/pkg/live"
)

func TestNewWebSocketDialerSchemes(t *testing.T) {
	cases := map[string]string{
		"http://message:9100":    "ws://message:9100/ws/alice",
		"https://message.local/": "wss://message.local/ws/alice",
		"ws://127.0.0.1:9100":    "ws://127.0.0.1:9100/ws/alice",
	}
	for base, want := range cases {
		d, err := NewWebSocketDialer(base, time.Second)
		if err != nil {
			t.Fatalf("%s: %v", base, err)
		}
		if got := d.URL("alice"); got != want {
			t.Fatalf("%s: url = %q, want %q", base, got, want)
		}
	}
	d, _ := NewWebSocketDialer("http://message:9100", time.Second)
	if got := d.URL("a b/c"); got != "ws://message:9100/ws/a%20b%2Fc" {
		t.Fatalf("escaped url = %q", got)
	}
	for _, bad := range []string{"ftp://message", "http://", "::"} {
		if _, err := NewWebSocketDialer(bad, time.Second); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestWebSocketDialerReachesLiveEndpoint(t *testing.T) {
	paths := make(chan string, 1)
	mux := http.NewServeMux()
	mux.Handle("/ws/", websocket.Server{Handler: func(ws *websocket.Conn) {
		paths <- ws.Request().URL.Path
		conn := live.NewWSConn(ws, time.Second)
		frame, err := conn.Receive()
		if err != nil {
			return
		}
		_ = conn.Send(strings.ToUpper(frame))
	}})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, err := NewWebSocketDialer(srv.URL, time.Second)
	if err != nil {
		t.Fatalf("dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if got := <-paths; got != "/ws/alice" {
		t.Fatalf("path = %q", got)
	}
	if err := conn.Send("hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Receive()
	if err != nil || got != "HELLO" {
		t.Fatalf("receive = %q, %v", got, err)
	}
}

func TestWebSocketDialerFailsWhenUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	d, _ := NewWebSocketDialer(base, time.Second)
	if _, err := d.Dial(context.Background(), "alice"); err == nil {
		t.Fatal("dial to a closed server should fail")
	}
}
