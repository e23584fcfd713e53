package live

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

func TestWSConnRoundTripAndIdempotentClose(t *testing.T) {
	srv := httptest.NewServer(websocket.Server{Handler: func(ws *websocket.Conn) {
		conn := NewWSConn(ws, time.Second)
		for {
			frame, err := conn.Receive()
			if err != nil {
				return
			}
			if err := conn.Send("echo:" + frame); err != nil {
				return
			}
		}
	}})
	defer srv.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewWSConn(ws, time.Second)

	for _, frame := range []string{`{"to":"bob"}`, "second"} {
		if err := conn.Send(frame); err != nil {
			t.Fatalf("send: %v", err)
		}
		got, err := conn.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if got != "echo:"+frame {
			t.Fatalf("got %q, want %q", got, "echo:"+frame)
		}
	}

	first := conn.Close()
	if second := conn.Close(); second != first {
		t.Fatalf("second close returned %v, first %v", second, first)
	}
	if _, err := conn.Receive(); err == nil {
		t.Fatal("receive after close should fail")
	}
}

func TestWSConnCarriesFramesOfAnySize(t *testing.T) {
	srv := httptest.NewServer(websocket.Server{Handler: func(ws *websocket.Conn) {
		conn := NewWSConn(ws, 5*time.Second)
		frame, err := conn.Receive()
		if err != nil {
			return
		}
		_ = conn.Send(frame)
	}})
	defer srv.Close()

	ws, err := websocket.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/", "", "http://localhost/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := NewWSConn(ws, 5*time.Second)
	defer conn.Close()

	big := strings.Repeat("x", 40<<20)
	if err := conn.Send(big); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got) != len(big) {
		t.Fatalf("echoed %d bytes, want %d", len(got), len(big))
	}
}
