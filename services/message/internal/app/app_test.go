package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"securechat/pkg/domain"
	"securechat/pkg/live"
	"securechat/pkg/store"
)

// pipeConn is an in-memory live.Conn. Frames pushed with Send are readable
// from sent; Receive blocks until Close.
type pipeConn struct {
	sent      chan string
	inbound   chan string
	closed    chan struct{}
	closeOnce sync.Once
	sendErr   error
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		sent:    make(chan string, 16),
		inbound: make(chan string),
		closed:  make(chan struct{}),
	}
}

func (c *pipeConn) Receive() (string, error) {
	select {
	case f := <-c.inbound:
		return f, nil
	case <-c.closed:
		return "", errors.New("closed")
	}
}

func (c *pipeConn) Send(frame string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.sent <- frame
	return nil
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type failingStore struct{ store.MessageStore }

func (failingStore) AppendMessage(context.Context, string, string, string) (domain.Message, error) {
	return domain.Message{}, errors.New("connection refused")
}

func (failingStore) History(context.Context, string, string) ([]domain.Message, error) {
	return nil, errors.New("connection refused")
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a, err := New(Config{Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestSendPushesToConnectedReceiver(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	bob := newPipeConn()
	a.Registry().Put("bob", bob)

	msg, err := a.Send(ctx, "alice", "bob", "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var got domain.Delivery
	select {
	case frame := <-bob.sent:
		if err := json.Unmarshal([]byte(frame), &got); err != nil {
			t.Fatalf("decode push %q: %v", frame, err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a push frame")
	}
	if got.Sender != "alice" || got.Content != "hi" || !got.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("push = %+v, message = %+v", got, msg)
	}

	history, err := a.History(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hi" || !history[0].Timestamp.Equal(got.Timestamp) {
		t.Fatalf("history = %+v", history)
	}
}

func TestSendToOfflineReceiverPersistsWithoutPush(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	carol := newPipeConn()
	a.Registry().Put("carol", carol)

	if _, err := a.Send(ctx, "alice", "bob", "are you there?"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case frame := <-carol.sent:
		t.Fatalf("unexpected push to another identity: %q", frame)
	default:
	}

	history, _ := a.History(ctx, "bob", "alice")
	if len(history) != 1 {
		t.Fatalf("history = %+v, want one message", history)
	}
	convs, err := a.Conversations(ctx, "bob")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].Counterpart != "alice" || !convs[0].LastActivity.Equal(history[0].Timestamp) {
		t.Fatalf("conversations = %+v", convs)
	}
}

func TestSendSucceedsWhenPushFails(t *testing.T) {
	a := newTestApp(t)
	broken := newPipeConn()
	broken.sendErr = errors.New("write: broken pipe")
	a.Registry().Put("bob", broken)

	if _, err := a.Send(context.Background(), "alice", "bob", "hello"); err != nil {
		t.Fatalf("send must not fail on delivery error: %v", err)
	}
	if _, ok := a.Registry().Get("bob"); ok {
		t.Fatal("broken channel should be removed from the registry")
	}
	select {
	case <-broken.closed:
	default:
		t.Fatal("broken channel should be closed")
	}
}

func TestSendValidationAndStoreFailure(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	if _, err := a.Send(ctx, " ", "bob", "x"); !errors.Is(err, ErrSenderRequired) {
		t.Fatalf("blank sender: %v", err)
	}
	if _, err := a.Send(ctx, "alice", "", "x"); !errors.Is(err, ErrReceiverRequired) {
		t.Fatalf("blank receiver: %v", err)
	}
	if _, err := a.Conversations(ctx, ""); !errors.Is(err, ErrIdentityRequired) {
		t.Fatalf("blank user: %v", err)
	}

	down, err := New(Config{Store: failingStore{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := down.Send(ctx, "alice", "bob", "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("store failure: %v", err)
	}
	if _, err := down.History(ctx, "alice", "bob"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("store failure: %v", err)
	}
	if _, err := New(Config{}); !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("missing store: %v", err)
	}
}

func TestServeLiveRegistersUntilPeerCloses(t *testing.T) {
	a := newTestApp(t)
	conn := newPipeConn()
	done := make(chan error, 1)
	go func() { done <- a.ServeLive(context.Background(), "bob", conn) }()

	waitFor(t, func() bool { _, ok := a.Registry().Get("bob"); return ok })
	conn.inbound <- "ping"

	if _, err := a.Send(context.Background(), "alice", "bob", "hey"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-conn.sent:
	case <-time.After(time.Second):
		t.Fatal("expected push while live")
	}

	_ = conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeLive did not return after close")
	}
	if _, ok := a.Registry().Get("bob"); ok {
		t.Fatal("entry should be removed after the channel closes")
	}
}

func TestServeLiveReplacementKeepsNewerEntry(t *testing.T) {
	a := newTestApp(t)
	first, second := newPipeConn(), newPipeConn()
	firstDone := make(chan error, 1)
	go func() { firstDone <- a.ServeLive(context.Background(), "bob", first) }()
	waitFor(t, func() bool { c, _ := a.Registry().Get("bob"); return c == live.Conn(first) })

	go func() { _ = a.ServeLive(context.Background(), "bob", second) }()
	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("replaced connection should be closed and its session ended")
	}
	waitFor(t, func() bool { c, _ := a.Registry().Get("bob"); return c == live.Conn(second) })
	_ = second.Close()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

type pingStore struct {
	store.MessageStore
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestPingChecksStoreWhenSupported(t *testing.T) {
	ctx := context.Background()
	if err := newTestApp(t).Ping(ctx); err != nil {
		t.Fatalf("memory store has no ping, want ready: %v", err)
	}

	up, _ := New(Config{Store: pingStore{MessageStore: store.NewMemoryStore()}})
	if err := up.Ping(ctx); err != nil {
		t.Fatalf("ping = %v", err)
	}

	down, _ := New(Config{Store: pingStore{MessageStore: store.NewMemoryStore(), err: errors.New("dial tcp: refused")}})
	if err := down.Ping(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("ping = %v, want ErrStoreUnavailable", err)
	}
}
