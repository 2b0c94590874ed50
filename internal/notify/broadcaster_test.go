package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestWalletPublishesToMemberChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(context.Background(), "wallet:member-1")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b := NewBroadcaster(client, zerolog.Nop())
	b.Wallet(context.Background(), "member-1", Message{
		Kind:     "purchase.paid",
		IntentID: "pi_123",
		Status:   "paid",
		Code:     "TKT-20260828-ABCDEF",
	})

	select {
	case got := <-sub.Channel():
		var msg Message
		if err := json.Unmarshal([]byte(got.Payload), &msg); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if msg.Kind != "purchase.paid" || msg.Code != "TKT-20260828-ABCDEF" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.OccurredAt.IsZero() {
			t.Fatal("expected occurredAt to be stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestPublishWithoutClientIsNoop(t *testing.T) {
	b := NewBroadcaster(nil, zerolog.Nop())
	// must not panic
	b.Kitchen(context.Background(), "vendor-1", Message{Kind: "order.placed"})
}
