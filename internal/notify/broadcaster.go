package notify

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Channel name prefixes. Subscribers (mobile app gateways, kitchen display
// systems) listen on the channel for their id.
const (
	walletChannelPrefix  = "wallet:"
	kitchenChannelPrefix = "kitchen:"
)

// Message is the envelope published to realtime subscribers.
type Message struct {
	Kind       string    `json:"kind"`
	IntentID   string    `json:"intentId,omitempty"`
	Purpose    string    `json:"purpose,omitempty"`
	Status     string    `json:"status,omitempty"`
	Code       string    `json:"code,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Broadcaster publishes purchase lifecycle updates over Redis pub/sub.
// Delivery is fire-and-forget: a failed publish is logged, never surfaced,
// so notification problems cannot fail webhook processing.
type Broadcaster struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewBroadcaster constructs a Broadcaster. A nil client disables publishing.
func NewBroadcaster(client *redis.Client, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{client: client, log: log}
}

// Wallet notifies a member's wallet channel.
func (b *Broadcaster) Wallet(ctx context.Context, memberID string, msg Message) {
	b.publish(ctx, walletChannelPrefix+memberID, msg)
}

// Kitchen notifies a vendor's kitchen channel about a paid order.
func (b *Broadcaster) Kitchen(ctx context.Context, vendorID string, msg Message) {
	b.publish(ctx, kitchenChannelPrefix+vendorID, msg)
}

func (b *Broadcaster) publish(ctx context.Context, channel string, msg Message) {
	if b == nil || b.client == nil {
		return
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Str("channel", channel).Msg("notify: marshal message")
		return
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.Warn().Err(err).Str("channel", channel).Msg("notify: publish failed")
	}
}
