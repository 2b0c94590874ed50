package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/riverbend-resort/wallet-api/internal/resilience"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// StripeConfig configures the Stripe-backed Processor.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// BaseURL overrides the API host. Tests point it at a local server.
	BaseURL string
	// Tolerance bounds how old a signed webhook timestamp may be.
	Tolerance time.Duration
}

// Stripe talks to the Stripe REST API directly over form-encoded HTTP and
// verifies webhook signatures per the v1 signing scheme.
type Stripe struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	tolerance     time.Duration
	client        resilience.HTTPClient
	now           func() time.Time
}

// NewStripe constructs a Stripe processor.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("payment: stripe secret key required")
	}
	whSecret := strings.TrimSpace(cfg.WebhookSecret)
	if whSecret == "" {
		return nil, errors.New("payment: stripe webhook secret required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultStripeBaseURL
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	// Retries are safe: every write carries an Idempotency-Key, so a replayed
	// request returns the original result instead of a second charge.
	client := resilience.HTTPClient{
		Client:      &http.Client{Timeout: 12 * time.Second},
		Breaker:     resilience.NewBreaker(5, 0.6, 30*time.Second).WithTarget("stripe"),
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
		Jitter:      0.2,
	}
	return &Stripe{
		secretKey:     key,
		webhookSecret: whSecret,
		baseURL:       base,
		tolerance:     tolerance,
		client:        client,
		now:           time.Now,
	}, nil
}

// WithNow overrides the clock used for signature tolerance checks.
func (s *Stripe) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateIntent opens a payment intent for the given amount and metadata.
func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("automatic_payment_methods[enabled]", "true")
	if req.CustomerID != "" {
		values.Set("customer", req.CustomerID)
	}
	if req.Description != "" {
		values.Set("description", req.Description)
	}
	for key, value := range req.Metadata {
		values.Set("metadata["+key+"]", value)
	}
	return s.doIntentRequest(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey)
}

// EnsureCustomer creates a Stripe customer for the member and returns its id.
// Callers persist the id so subsequent intents reuse it.
func (s *Stripe) EnsureCustomer(ctx context.Context, memberID, email, name string) (string, error) {
	values := url.Values{}
	values.Set("email", email)
	if name != "" {
		values.Set("name", name)
	}
	values.Set("metadata[member_id]", memberID)

	body, err := s.do(ctx, http.MethodPost, "/v1/customers", values, "customer:"+memberID)
	if err != nil {
		return "", err
	}
	var customer struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &customer); err != nil {
		return "", err
	}
	if customer.ID == "" {
		return "", errors.New("payment: stripe customer response missing id")
	}
	return customer.ID, nil
}

// VerifyWebhook checks the Stripe-Signature header against the raw body.
func (s *Stripe) VerifyWebhook(signatureHeader string, body []byte) error {
	header := strings.TrimSpace(signatureHeader)
	if header == "" {
		return ErrInvalidSignature
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		return ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	age := s.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > s.tolerance {
		return ErrInvalidSignature
	}

	signed := fmt.Sprintf("%s.%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	_, _ = mac.Write([]byte(signed))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ParseEvent decodes a Stripe event envelope into the normalized Event shape.
func (s *Stripe) ParseEvent(body []byte) (Event, error) {
	var envelope struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Event{}, ErrInvalidPayload
	}
	if strings.TrimSpace(envelope.ID) == "" {
		return Event{}, ErrInvalidPayload
	}

	var kind string
	switch strings.TrimSpace(envelope.Type) {
	case "payment_intent.succeeded":
		kind = EventSucceeded
	case "payment_intent.payment_failed":
		kind = EventFailed
	case "payment_intent.canceled":
		kind = EventCanceled
	case "charge.refunded":
		kind = EventRefunded
	default:
		return Event{}, ErrEventIgnored
	}

	var object struct {
		ID             string            `json:"id"`
		Amount         int64             `json:"amount"`
		AmountReceived int64             `json:"amount_received"`
		AmountRefunded int64             `json:"amount_refunded"`
		Currency       string            `json:"currency"`
		Created        int64             `json:"created"`
		PaymentIntent  string            `json:"payment_intent"`
		Metadata       map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(envelope.Data.Object, &object); err != nil {
		return Event{}, ErrInvalidPayload
	}

	intentID := object.ID
	amount := object.AmountReceived
	if kind == EventRefunded {
		// refunds arrive as charge objects pointing back at their intent
		intentID = object.PaymentIntent
		amount = object.AmountRefunded
	}
	if amount <= 0 {
		amount = object.Amount
	}
	if strings.TrimSpace(intentID) == "" {
		return Event{}, ErrInvalidPayload
	}

	created := object.Created
	if created == 0 {
		created = envelope.Created
	}
	occurredAt := time.Unix(created, 0).UTC()
	if created == 0 {
		occurredAt = s.now().UTC()
	}

	return Event{
		ID:         envelope.ID,
		Type:       kind,
		IntentID:   intentID,
		Amount:     amount,
		Currency:   strings.ToUpper(strings.TrimSpace(object.Currency)),
		Metadata:   object.Metadata,
		OccurredAt: occurredAt,
		Raw:        body,
	}, nil
}

// SignPayload produces a valid Stripe-Signature header for the payload.
// Only used by tests and local tooling.
func (s *Stripe) SignPayload(body []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	_, _ = mac.Write([]byte(timestamp + "." + string(body)))
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Stripe) doIntentRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string) (Intent, error) {
	body, err := s.do(ctx, method, path, values, idempotencyKey)
	if err != nil {
		return Intent{}, err
	}
	var intent struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
		Amount       int64  `json:"amount"`
	}
	if err := json.Unmarshal(body, &intent); err != nil {
		return Intent{}, err
	}
	if intent.ID == "" {
		return Intent{}, errors.New("payment: stripe intent response missing id")
	}
	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
	}, nil
}

func (s *Stripe) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string) ([]byte, error) {
	var reader *strings.Reader
	if values != nil {
		reader = strings.NewReader(values.Encode())
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return nil, fmt.Errorf("payment: stripe request failed with status %d", resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = fmt.Sprintf("stripe request failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("payment: %s", message)
	}

	return io.ReadAll(resp.Body)
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	var signatures []string
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "t":
			timestamp = strings.TrimSpace(keyValue[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(keyValue[1]))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, ErrInvalidSignature
	}
	return timestamp, signatures, nil
}
