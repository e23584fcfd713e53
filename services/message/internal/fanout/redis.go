// Package fanout spreads live deliveries across message service instances
// through Redis pub/sub, so a receiver connected to any instance gets the push.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"securechat/pkg/domain"
	"securechat/pkg/live"
	"securechat/services/message/internal/app"
)

// DefaultChannel is the pub/sub channel shared by all instances.
const DefaultChannel = "securechat:deliveries"

type envelope struct {
	Receiver string          `json:"receiver"`
	Delivery domain.Delivery `json:"delivery"`
}

// RedisNotifier publishes deliveries and pushes the ones it receives into
// the local registry. It implements app.Notifier.
type RedisNotifier struct {
	client   *redis.Client
	channel  string
	registry *live.Registry
}

// NewRedisNotifier constructs a notifier. Call Start before serving traffic.
func NewRedisNotifier(client *redis.Client, registry *live.Registry, channel string) *RedisNotifier {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisNotifier{client: client, channel: channel, registry: registry}
}

// Notify publishes msg. When Redis is unreachable the delivery falls back to
// this instance's registry.
func (n *RedisNotifier) Notify(ctx context.Context, msg domain.Message) {
	env := envelope{Receiver: msg.Receiver, Delivery: domain.DeliveryOf(msg)}
	payload, err := json.Marshal(env)
	if err == nil {
		err = n.client.Publish(ctx, n.channel, payload).Err()
	}
	if err != nil {
		slog.Warn("publish delivery failed, delivering locally", "receiver", msg.Receiver, "err", err)
		app.DeliverLocal(ctx, n.registry, env.Receiver, env.Delivery)
	}
}

// Start subscribes and returns once Redis has confirmed the subscription.
// Deliveries are consumed until ctx is cancelled.
func (n *RedisNotifier) Start(ctx context.Context) error {
	sub := n.client.Subscribe(ctx, n.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", n.channel, err)
	}
	go n.consume(ctx, sub)
	return nil
}

func (n *RedisNotifier) consume(ctx context.Context, sub *redis.PubSub) {
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				slog.Warn("discarding malformed delivery", "err", err)
				continue
			}
			app.DeliverLocal(ctx, n.registry, env.Receiver, env.Delivery)
		}
	}
}
