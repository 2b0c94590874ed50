package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/catalog"
	"github.com/riverbend-resort/wallet-api/internal/notify"
	"github.com/riverbend-resort/wallet-api/internal/pricing"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

type memCatalog struct {
	member     catalog.Member
	hasMember  bool
	customerID string
	event      catalog.Event
	tournament catalog.Tournament
	policy     catalog.VoucherPolicy
	order      catalog.Order
	lines      []catalog.OrderLine
}

func (m *memCatalog) GetMember(_ context.Context, id uuid.UUID) (catalog.Member, error) {
	if !m.hasMember || m.member.ID != id {
		return catalog.Member{}, catalog.ErrNotFound
	}
	return m.member, nil
}

func (m *memCatalog) SetMemberCustomerID(_ context.Context, _ uuid.UUID, customerID string) error {
	m.customerID = customerID
	return nil
}
func (m *memCatalog) GetEvent(context.Context, uuid.UUID) (catalog.Event, error) {
	return m.event, nil
}
func (m *memCatalog) GetTournament(context.Context, uuid.UUID) (catalog.Tournament, error) {
	return m.tournament, nil
}
func (m *memCatalog) GetVoucherPolicy(context.Context) (catalog.VoucherPolicy, error) {
	return m.policy, nil
}
func (m *memCatalog) GetOrder(context.Context, uuid.UUID) (catalog.Order, error) {
	return m.order, nil
}
func (m *memCatalog) ListOrderLines(context.Context, uuid.UUID) ([]catalog.OrderLine, error) {
	return m.lines, nil
}

type memPurchases struct {
	rec            purchase.Record
	found          bool
	failCodeTimes  int
	markPaidCalls  int
	lastFulfilment purchase.Fulfillment
}

func (m *memPurchases) Create(_ context.Context, rec purchase.Record) (purchase.Record, error) {
	m.rec = rec
	m.found = true
	return rec, nil
}

func (m *memPurchases) AttachOrderIntent(context.Context, uuid.UUID, string, int64) error {
	return nil
}

func (m *memPurchases) GetByIntent(_ context.Context, intentID string) (purchase.Record, error) {
	if !m.found || m.rec.IntentID != intentID {
		return purchase.Record{}, purchase.ErrNotFound
	}
	return m.rec, nil
}

func (m *memPurchases) MarkPaid(_ context.Context, intentID string, f purchase.Fulfillment) (bool, error) {
	m.markPaidCalls++
	if m.failCodeTimes > 0 {
		m.failCodeTimes--
		return false, purchase.ErrCodeTaken
	}
	if !m.found || m.rec.IntentID != intentID || m.rec.Status != purchase.StatusPending {
		return false, nil
	}
	m.rec.Status = purchase.StatusPaid
	m.rec.Code = &f.Code
	m.lastFulfilment = f
	return true, nil
}

func (m *memPurchases) MarkMismatch(_ context.Context, intentID string) (bool, error) {
	if !m.found || m.rec.IntentID != intentID || m.rec.Status != purchase.StatusPending {
		return false, nil
	}
	m.rec.Status = purchase.StatusMismatch
	return true, nil
}

func (m *memPurchases) MarkCanceled(_ context.Context, intentID string) (bool, error) {
	if !m.found || m.rec.IntentID != intentID || m.rec.Status != purchase.StatusPending {
		return false, nil
	}
	m.rec.Status = purchase.StatusCanceled
	return true, nil
}

func (m *memPurchases) MarkRefunded(_ context.Context, intentID string) (bool, error) {
	if !m.found || m.rec.IntentID != intentID || m.rec.Status != purchase.StatusPaid {
		return false, nil
	}
	m.rec.Status = purchase.StatusRefunded
	m.rec.Code = nil
	return true, nil
}

func newTicketFixture() (*memPurchases, *memCatalog) {
	purchases := &memPurchases{
		rec: purchase.Record{
			ID:          uuid.New(),
			Purpose:     purchase.PurposeTicket,
			MemberID:    uuid.New(),
			RefID:       uuid.New(),
			Qty:         2,
			AmountCents: 10000,
			FeeCents:    400,
			Status:      purchase.StatusPending,
			IntentID:    "pi_123",
		},
		found: true,
	}
	cat := &memCatalog{event: catalog.Event{
		PriceCents: 5000,
		FeeCents:   200,
		Capacity:   100,
	}}
	return purchases, cat
}

func newIssuer(purchases purchase.Store, cat catalog.Store) *Issuer {
	return NewIssuer(purchases, pricing.NewCalculator(cat), notify.NewBroadcaster(nil, zerolog.Nop()), IssuerConfig{}, zerolog.Nop())
}

func TestApplySucceededIssuesTicket(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{
		ID:       "evt_1",
		Type:     EventSucceeded,
		IntentID: "pi_123",
		Amount:   10400,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled, got %s", outcome)
	}
	if purchases.rec.Status != purchase.StatusPaid {
		t.Fatalf("expected paid, got %s", purchases.rec.Status)
	}
	if purchases.rec.Code == nil || *purchases.rec.Code == "" {
		t.Fatal("expected a redemption code")
	}
}

func TestApplySucceededRefusesChargedAmountMismatch(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{
		ID:       "evt_1",
		Type:     EventSucceeded,
		IntentID: "pi_123",
		Amount:   9999,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeMismatch {
		t.Fatalf("expected mismatch, got %s", outcome)
	}
	if purchases.rec.Status != purchase.StatusMismatch {
		t.Fatalf("expected payment_mismatch, got %s", purchases.rec.Status)
	}
	if purchases.rec.Code != nil {
		t.Fatal("mismatched purchase must not receive a code")
	}
}

func TestApplySucceededRefusesWhenCatalogPriceMoved(t *testing.T) {
	purchases, cat := newTicketFixture()
	// the stored amount reflects the old price; a rederivation now disagrees
	cat.event.PriceCents = 6000
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{
		ID:       "evt_1",
		Type:     EventSucceeded,
		IntentID: "pi_123",
		Amount:   10400,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeMismatch {
		t.Fatalf("expected mismatch, got %s", outcome)
	}
}

func TestApplySucceededToleratesOneCentRounding(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{
		ID:       "evt_1",
		Type:     EventSucceeded,
		IntentID: "pi_123",
		Amount:   10401,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeFulfilled {
		t.Fatalf("one cent of rounding drift must fulfill, got %s", outcome)
	}
	if purchases.rec.Status != purchase.StatusPaid {
		t.Fatalf("expected paid, got %s", purchases.rec.Status)
	}
}

func TestApplySucceededFulfillsOrderDespiteMenuPriceChange(t *testing.T) {
	orderID := uuid.New()
	purchases := &memPurchases{
		rec: purchase.Record{
			ID:          orderID,
			Purpose:     purchase.PurposeDining,
			MemberID:    uuid.New(),
			RefID:       uuid.New(), // vendor
			AmountCents: 2100,       // subtotal 2000 + tax 60 + tip 40, validated at checkout
			Status:      purchase.StatusPending,
			IntentID:    "pi_d",
		},
		found: true,
	}
	// the kitchen raised its prices after the guest checked out
	cat := &memCatalog{
		order: catalog.Order{ID: orderID, SubtotalCents: 2000, TaxCents: 60, TipCents: 40},
		lines: []catalog.OrderLine{{MenuItemID: uuid.New(), Qty: 1, UnitPriceCents: 2500}},
	}
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{
		ID:       "evt_d",
		Type:     EventSucceeded,
		IntentID: "pi_d",
		Amount:   2100,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeFulfilled {
		t.Fatalf("paid order must fulfill against its stored total, got %s", outcome)
	}
	if purchases.rec.Status != purchase.StatusPaid {
		t.Fatalf("expected paid, got %s", purchases.rec.Status)
	}
	if purchases.lastFulfilment.PickupETA == nil {
		t.Fatal("expected a pickup ETA")
	}
}

func TestApplySucceededIsIdempotent(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)
	event := Event{ID: "evt_1", Type: EventSucceeded, IntentID: "pi_123", Amount: 10400}

	if _, err := issuer.Apply(context.Background(), event); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	firstCode := *purchases.rec.Code

	outcome, err := issuer.Apply(context.Background(), event)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", outcome)
	}
	if *purchases.rec.Code != firstCode {
		t.Fatal("duplicate delivery must not rotate the code")
	}
}

func TestApplySucceededOrphanedIntent(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{
		ID:       "evt_1",
		Type:     EventSucceeded,
		IntentID: "pi_unknown",
		Amount:   10400,
	})
	if outcome != OutcomeOrphaned {
		t.Fatalf("expected orphaned, got %s", outcome)
	}
	if !IsOrphaned(err) {
		t.Fatalf("expected orphaned error, got %v", err)
	}
}

func TestApplyRefundRevokesCode(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)

	if _, err := issuer.Apply(context.Background(), Event{ID: "evt_1", Type: EventSucceeded, IntentID: "pi_123", Amount: 10400}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	outcome, err := issuer.Apply(context.Background(), Event{ID: "evt_2", Type: EventRefunded, IntentID: "pi_123", Amount: 10400})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if outcome != OutcomeRefunded {
		t.Fatalf("expected refunded, got %s", outcome)
	}
	if purchases.rec.Status != purchase.StatusRefunded || purchases.rec.Code != nil {
		t.Fatalf("expected refunded without code, got %+v", purchases.rec)
	}
}

func TestApplyCancelOnlyFromPending(t *testing.T) {
	purchases, cat := newTicketFixture()
	issuer := newIssuer(purchases, cat)

	if _, err := issuer.Apply(context.Background(), Event{ID: "evt_1", Type: EventSucceeded, IntentID: "pi_123", Amount: 10400}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	outcome, err := issuer.Apply(context.Background(), Event{ID: "evt_2", Type: EventCanceled, IntentID: "pi_123"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if outcome != OutcomeNoop {
		t.Fatalf("late cancel must be a noop, got %s", outcome)
	}
	if purchases.rec.Status != purchase.StatusPaid {
		t.Fatalf("paid purchase must stay paid, got %s", purchases.rec.Status)
	}
}

func TestFulfillRetriesOnCodeCollision(t *testing.T) {
	purchases, cat := newTicketFixture()
	purchases.failCodeTimes = 2
	issuer := newIssuer(purchases, cat)

	outcome, err := issuer.Apply(context.Background(), Event{ID: "evt_1", Type: EventSucceeded, IntentID: "pi_123", Amount: 10400})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled after retries, got %s", outcome)
	}
	if purchases.markPaidCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", purchases.markPaidCalls)
	}
}

func TestFulfillSetsRedemptionWindowForVoucher(t *testing.T) {
	purchases := &memPurchases{
		rec: purchase.Record{
			ID:          uuid.New(),
			Purpose:     purchase.PurposeVoucher,
			MemberID:    uuid.New(),
			AmountCents: 10000,
			FeeCents:    599,
			Status:      purchase.StatusPending,
			IntentID:    "pi_v",
		},
		found: true,
	}
	cat := &memCatalog{policy: catalog.VoucherPolicy{MinCents: 2000, MaxCents: 50000}}
	issuer := newIssuer(purchases, cat)
	fixed := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	issuer.WithNow(func() time.Time { return fixed })

	outcome, err := issuer.Apply(context.Background(), Event{ID: "evt_v", Type: EventSucceeded, IntentID: "pi_v", Amount: 10599})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome != OutcomeFulfilled {
		t.Fatalf("expected fulfilled, got %s", outcome)
	}
	f := purchases.lastFulfilment
	if f.WindowStart == nil || !f.WindowStart.Equal(fixed) {
		t.Fatalf("unexpected window start: %v", f.WindowStart)
	}
	if f.WindowEnd == nil || !f.WindowEnd.Equal(fixed.Add(2*time.Hour)) {
		t.Fatalf("unexpected window end: %v", f.WindowEnd)
	}
}

func TestIsOrphanedOnlyMatchesOrphanError(t *testing.T) {
	if IsOrphaned(errors.New("other")) {
		t.Fatal("unrelated errors must not read as orphaned")
	}
}
