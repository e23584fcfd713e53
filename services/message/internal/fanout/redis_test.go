package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"securechat/pkg/domain"
	"securechat/pkg/live"
)

type captureConn struct {
	frames chan string
}

func (c *captureConn) Receive() (string, error) { return "", errors.New("unused") }
func (c *captureConn) Send(frame string) error {
	c.frames <- frame
	return nil
}
func (c *captureConn) Close() error { return nil }

func newClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDeliveryReachesReceiverOnAnotherInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regA, regB := live.NewRegistry(), live.NewRegistry()
	nodeA := NewRedisNotifier(newClient(t, mr), regA, "test:deliveries")
	nodeB := NewRedisNotifier(newClient(t, mr), regB, "test:deliveries")
	if err := nodeA.Start(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if err := nodeB.Start(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}

	bob := &captureConn{frames: make(chan string, 1)}
	regB.Put("bob", bob)

	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	nodeA.Notify(ctx, domain.Message{ID: 7, Sender: "alice", Receiver: "bob", Content: "hi", Timestamp: ts})

	select {
	case frame := <-bob.frames:
		var d domain.Delivery
		if err := json.Unmarshal([]byte(frame), &d); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if d.Sender != "alice" || d.Content != "hi" || !d.Timestamp.Equal(ts) {
			t.Fatalf("delivery = %+v", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not cross instances")
	}
}

func TestNotifyFallsBackToLocalWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := live.NewRegistry()
	node := NewRedisNotifier(newClient(t, mr), reg, "")
	bob := &captureConn{frames: make(chan string, 1)}
	reg.Put("bob", bob)
	mr.Close()

	node.Notify(context.Background(), domain.Message{Sender: "alice", Receiver: "bob", Content: "offline redis"})
	select {
	case <-bob.frames:
	case <-time.After(5 * time.Second):
		t.Fatal("expected local fallback delivery")
	}
}

func TestStartFailsWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(t, mr)
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := NewRedisNotifier(client, live.NewRegistry(), "").Start(ctx); err == nil {
		t.Fatal("expected subscribe error")
	}
}
