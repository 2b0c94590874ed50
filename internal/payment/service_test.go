package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/catalog"
	"github.com/riverbend-resort/wallet-api/internal/common"
	"github.com/riverbend-resort/wallet-api/internal/pricing"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

type fakeProcessor struct {
	intent      Intent
	lastRequest IntentRequest
	calls       int
	customerID  string
}

func (f *fakeProcessor) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	f.calls++
	f.lastRequest = req
	if f.intent.ID == "" {
		f.intent = Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Amount: req.Amount}
	}
	return f.intent, nil
}

func (f *fakeProcessor) EnsureCustomer(context.Context, string, string, string) (string, error) {
	if f.customerID == "" {
		f.customerID = "cus_new"
	}
	return f.customerID, nil
}

func (f *fakeProcessor) VerifyWebhook(string, []byte) error { return nil }

func (f *fakeProcessor) ParseEvent([]byte) (Event, error) { return Event{}, ErrEventIgnored }

func newServiceFixture(memberID uuid.UUID) (*Service, *memCatalog, *memPurchases, *fakeProcessor) {
	cat := &memCatalog{
		member: catalog.Member{
			ID:    memberID,
			Email: "pat@example.com",
			Name:  "Pat",
		},
		hasMember: true,
		event: catalog.Event{
			PriceCents: 5000,
			FeeCents:   200,
			Capacity:   100,
		},
		policy: catalog.VoucherPolicy{MinCents: 2000, MaxCents: 50000},
	}
	purchases := &memPurchases{}
	processor := &fakeProcessor{}
	svc := NewService(cat, pricing.NewCalculator(cat), purchases, processor, "usd", zerolog.Nop())
	return svc, cat, purchases, processor
}

func TestCreateIntentPricesFromCatalog(t *testing.T) {
	memberID := uuid.New()
	svc, cat, purchases, processor := newServiceFixture(memberID)

	result, err := svc.CreateIntent(context.Background(), memberID, IntentInput{
		Purpose: purchase.PurposeTicket,
		RefID:   uuid.New(),
		Qty:     2,
		// the client-supplied amount must be ignored for tickets
		Amount: 1,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if result.Amount != 10400 {
		t.Fatalf("unexpected amount: %d", result.Amount)
	}
	if processor.lastRequest.Amount != 10400 {
		t.Fatalf("processor got wrong amount: %d", processor.lastRequest.Amount)
	}
	if processor.lastRequest.Metadata["member_id"] != memberID.String() {
		t.Fatalf("metadata missing member id: %v", processor.lastRequest.Metadata)
	}
	if purchases.rec.IntentID != "pi_123" || purchases.rec.AmountCents != 10000 || purchases.rec.FeeCents != 400 {
		t.Fatalf("unexpected purchase record: %+v", purchases.rec)
	}
	if cat.customerID != "cus_new" {
		t.Fatalf("customer id not persisted: %q", cat.customerID)
	}
}

func TestCreateIntentReusesStoredCustomer(t *testing.T) {
	memberID := uuid.New()
	svc, cat, _, processor := newServiceFixture(memberID)
	existing := "cus_existing"
	cat.member.StripeCustomerID = &existing

	if _, err := svc.CreateIntent(context.Background(), memberID, IntentInput{
		Purpose: purchase.PurposeTicket,
		RefID:   uuid.New(),
		Qty:     1,
	}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if processor.lastRequest.CustomerID != "cus_existing" {
		t.Fatalf("expected stored customer, got %q", processor.lastRequest.CustomerID)
	}
}

func TestCreateIntentVoucherBelowMinimum(t *testing.T) {
	memberID := uuid.New()
	svc, _, _, processor := newServiceFixture(memberID)

	_, err := svc.CreateIntent(context.Background(), memberID, IntentInput{
		Purpose: purchase.PurposeVoucher,
		Amount:  1500,
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "BELOW_MINIMUM" {
		t.Fatalf("expected BELOW_MINIMUM, got %v", err)
	}
	if appErr.HTTPStatus != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status: %d", appErr.HTTPStatus)
	}
	if processor.calls != 0 {
		t.Fatal("rejected quote must not reach the processor")
	}
}

func TestCreateIntentDiningRequiresOwnership(t *testing.T) {
	memberID := uuid.New()
	svc, cat, _, _ := newServiceFixture(memberID)
	cat.order = catalog.Order{
		ID:       uuid.New(),
		MemberID: uuid.New(), // someone else's cart
	}

	_, err := svc.CreateIntent(context.Background(), memberID, IntentInput{
		Purpose: purchase.PurposeDining,
		RefID:   cat.order.ID,
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "ORDER_NOT_FOUND" {
		t.Fatalf("expected ORDER_NOT_FOUND, got %v", err)
	}
}

func TestCreateIntentUnknownMember(t *testing.T) {
	svc, _, _, _ := newServiceFixture(uuid.New())

	_, err := svc.CreateIntent(context.Background(), uuid.New(), IntentInput{
		Purpose: purchase.PurposeTicket,
		RefID:   uuid.New(),
		Qty:     1,
	})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "MEMBER_NOT_FOUND" {
		t.Fatalf("expected MEMBER_NOT_FOUND, got %v", err)
	}
}

func TestStatusScopedToOwner(t *testing.T) {
	memberID := uuid.New()
	svc, _, purchases, _ := newServiceFixture(memberID)
	purchases.rec = purchase.Record{
		Purpose:     purchase.PurposeTicket,
		MemberID:    memberID,
		Status:      purchase.StatusPaid,
		IntentID:    "pi_123",
		AmountCents: 10000,
	}
	purchases.found = true

	rec, err := svc.Status(context.Background(), memberID, "pi_123")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.Status != purchase.StatusPaid {
		t.Fatalf("unexpected status: %s", rec.Status)
	}

	_, err = svc.Status(context.Background(), uuid.New(), "pi_123")
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != "PURCHASE_NOT_FOUND" {
		t.Fatalf("expected PURCHASE_NOT_FOUND for other member, got %v", err)
	}
}
