package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestStripe(t *testing.T, baseURL string) *Stripe {
	t.Helper()
	s, err := NewStripe(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		BaseURL:       baseURL,
		Tolerance:     5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new stripe: %v", err)
	}
	return s
}

func TestVerifyWebhookAcceptsValidSignature(t *testing.T) {
	s := newTestStripe(t, "")
	body := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	header := s.SignPayload(body, time.Now())
	if err := s.VerifyWebhook(header, body); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyWebhookRejectsTamperedBody(t *testing.T) {
	s := newTestStripe(t, "")
	body := []byte(`{"id":"evt_1"}`)
	header := s.SignPayload(body, time.Now())
	if err := s.VerifyWebhook(header, []byte(`{"id":"evt_2"}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhookRejectsStaleTimestamp(t *testing.T) {
	s := newTestStripe(t, "")
	body := []byte(`{"id":"evt_1"}`)
	header := s.SignPayload(body, time.Now().Add(-10*time.Minute))
	if err := s.VerifyWebhook(header, body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyWebhookRejectsMissingHeader(t *testing.T) {
	s := newTestStripe(t, "")
	if err := s.VerifyWebhook("", []byte(`{}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestParseEventSucceededIntent(t *testing.T) {
	s := newTestStripe(t, "")
	body := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": 1756339200,
		"data": {"object": {
			"id": "pi_123",
			"amount": 10400,
			"amount_received": 10400,
			"currency": "usd",
			"metadata": {"member_id": "m1", "purpose": "ticket", "ref_id": "r1"}
		}}
	}`)
	event, err := s.ParseEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventSucceeded {
		t.Fatalf("unexpected type: %s", event.Type)
	}
	if event.IntentID != "pi_123" || event.Amount != 10400 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["purpose"] != "ticket" {
		t.Fatalf("metadata not carried: %+v", event.Metadata)
	}
}

func TestParseEventRefundedCharge(t *testing.T) {
	s := newTestStripe(t, "")
	body := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"data": {"object": {
			"id": "ch_1",
			"payment_intent": "pi_123",
			"amount": 10400,
			"amount_refunded": 10400,
			"currency": "usd"
		}}
	}`)
	event, err := s.ParseEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Type != EventRefunded || event.IntentID != "pi_123" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestParseEventIgnoresUnknownTypes(t *testing.T) {
	s := newTestStripe(t, "")
	_, err := s.ParseEvent([]byte(`{"id":"evt_3","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	if !errors.Is(err, ErrEventIgnored) {
		t.Fatalf("expected ErrEventIgnored, got %v", err)
	}
}

func TestCreateIntentSendsFormEncodedRequest(t *testing.T) {
	var gotPath, gotAuth, gotIdem string
	var gotForm map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "pi_123",
			"client_secret": "pi_123_secret",
			"status":        "requires_payment_method",
			"amount":        10400,
		})
	}))
	defer server.Close()

	s := newTestStripe(t, server.URL)
	intent, err := s.CreateIntent(context.Background(), IntentRequest{
		Amount:         10400,
		Currency:       "USD",
		CustomerID:     "cus_1",
		IdempotencyKey: "intent:abc",
		Metadata:       map[string]string{"purpose": "ticket"},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if gotPath != "/v1/payment_intents" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("unexpected auth header: %s", gotAuth)
	}
	if gotIdem != "intent:abc" {
		t.Fatalf("unexpected idempotency key: %s", gotIdem)
	}
	if gotForm["amount"][0] != "10400" || gotForm["currency"][0] != "usd" {
		t.Fatalf("unexpected form: %v", gotForm)
	}
	if gotForm["metadata[purpose]"][0] != "ticket" {
		t.Fatalf("metadata not sent: %v", gotForm)
	}
}

func TestCreateIntentSurfacesStripeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "card declined"}})
	}))
	defer server.Close()

	s := newTestStripe(t, server.URL)
	_, err := s.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "usd"})
	if err == nil || err.Error() != "payment: card declined" {
		t.Fatalf("expected stripe error, got %v", err)
	}
}

func TestEnsureCustomerReturnsID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/customers" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cus_9"})
	}))
	defer server.Close()

	s := newTestStripe(t, server.URL)
	id, err := s.EnsureCustomer(context.Background(), "m1", "m1@example.com", "Pat")
	if err != nil {
		t.Fatalf("ensure customer: %v", err)
	}
	if id != "cus_9" {
		t.Fatalf("unexpected customer id: %s", id)
	}
}
