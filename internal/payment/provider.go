package payment

import (
	"context"
	"errors"
	"time"
)

// Normalized processor event kinds.
const (
	EventSucceeded = "payment_succeeded"
	EventFailed    = "payment_failed"
	EventCanceled  = "payment_canceled"
	EventRefunded  = "payment_refunded"
)

// ErrEventIgnored marks processor event types this service does not act on.
// Webhook handling acknowledges them without touching any purchase.
var ErrEventIgnored = errors.New("payment: event ignored")

// ErrInvalidSignature indicates the webhook payload failed signature
// verification.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// ErrInvalidPayload indicates the webhook body could not be decoded.
var ErrInvalidPayload = errors.New("payment: invalid webhook payload")

// IntentRequest captures what the processor needs to open a payment intent.
// Metadata carries the routing fields the webhook handler trusts.
type IntentRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the minimal processor response surfaced to clients.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
}

// Event is a verified, normalized processor webhook event.
type Event struct {
	ID         string
	Type       string
	IntentID   string
	Amount     int64
	Currency   string
	Metadata   map[string]string
	OccurredAt time.Time
	Raw        []byte
}

// Processor abstracts the upstream payment processor.
type Processor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	EnsureCustomer(ctx context.Context, memberID, email, name string) (string, error)
	VerifyWebhook(signatureHeader string, body []byte) error
	ParseEvent(body []byte) (Event, error)
}
