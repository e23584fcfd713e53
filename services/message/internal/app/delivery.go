package app

import (
	"bytes"
	"context"
	"encoding/json"

	"securechat/internal/util"
	"securechat/pkg/domain"
	"securechat/pkg/live"
)

// Notifier pushes a persisted message to its receiver, best effort.
type Notifier interface {
	Notify(ctx context.Context, msg domain.Message)
}

// LocalNotifier delivers through the registry of this process.
type LocalNotifier struct {
	registry *live.Registry
}

// NewLocalNotifier constructs a notifier backed by registry.
func NewLocalNotifier(registry *live.Registry) *LocalNotifier {
	return &LocalNotifier{registry: registry}
}

func (n *LocalNotifier) Notify(ctx context.Context, msg domain.Message) {
	DeliverLocal(ctx, n.registry, msg.Receiver, domain.DeliveryOf(msg))
}

// DeliverLocal encodes d and pushes it to receiver's channel if one is open.
func DeliverLocal(ctx context.Context, registry *live.Registry, receiver string, d domain.Delivery) bool {
	frame, err := EncodeDelivery(d)
	if err != nil {
		util.LoggerFromContext(ctx).Error("encode delivery", "err", err)
		return false
	}
	delivered, err := registry.Push(receiver, frame)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("live delivery failed", "receiver", receiver, "err", err)
	}
	return delivered
}

// EncodeDelivery renders the push frame. HTML characters are left unescaped
// so a frame stays close to the size of the content it carries.
func EncodeDelivery(d domain.Delivery) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
