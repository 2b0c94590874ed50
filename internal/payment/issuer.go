package payment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/notify"
	"github.com/riverbend-resort/wallet-api/internal/obs"
	"github.com/riverbend-resort/wallet-api/internal/pricing"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

// Outcome describes what an event application did to the purchase record.
type Outcome string

const (
	OutcomeFulfilled Outcome = "fulfilled"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMismatch  Outcome = "mismatch"
	OutcomeCanceled  Outcome = "canceled"
	OutcomeRefunded  Outcome = "refunded"
	OutcomeOrphaned  Outcome = "orphaned"
	OutcomeNoop      Outcome = "noop"
)

const maxCodeAttempts = 5

// IssuerConfig carries the fulfillment windows applied to issued codes.
type IssuerConfig struct {
	// RedemptionWindow bounds how long entry and voucher codes stay valid.
	RedemptionWindow time.Duration
	// PickupETA is the promised kitchen turnaround for paid dining orders.
	PickupETA time.Duration
}

// Issuer applies verified processor events to purchase records. It owns the
// paid transition: amount re-validation, redemption code generation, and the
// realtime notifications that follow.
type Issuer struct {
	purchases purchase.Store
	calc      *pricing.Calculator
	broadcast *notify.Broadcaster
	cfg       IssuerConfig
	log       zerolog.Logger
	now       func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(purchases purchase.Store, calc *pricing.Calculator, broadcast *notify.Broadcaster, cfg IssuerConfig, log zerolog.Logger) *Issuer {
	if cfg.RedemptionWindow <= 0 {
		cfg.RedemptionWindow = 2 * time.Hour
	}
	if cfg.PickupETA <= 0 {
		cfg.PickupETA = 15 * time.Minute
	}
	return &Issuer{
		purchases: purchases,
		calc:      calc,
		broadcast: broadcast,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// WithNow overrides the issuer clock.
func (i *Issuer) WithNow(now func() time.Time) {
	if now != nil {
		i.now = now
	}
}

// Apply routes a normalized processor event to the matching transition.
// Returning a nil error means the event is settled and must not be retried;
// a non-nil error leaves it unprocessed for the reconciliation sweep.
func (i *Issuer) Apply(ctx context.Context, event Event) (Outcome, error) {
	switch event.Type {
	case EventSucceeded:
		return i.applySucceeded(ctx, event)
	case EventFailed, EventCanceled:
		return i.applyTransition(ctx, event, i.purchases.MarkCanceled, OutcomeCanceled)
	case EventRefunded:
		return i.applyTransition(ctx, event, i.purchases.MarkRefunded, OutcomeRefunded)
	}
	return OutcomeNoop, nil
}

func (i *Issuer) applySucceeded(ctx context.Context, event Event) (Outcome, error) {
	rec, err := i.purchases.GetByIntent(ctx, event.IntentID)
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			// no local record for this intent; acknowledged but kept
			// unprocessed so the sweep can retry once the record appears
			i.log.Warn().Str("intent_id", event.IntentID).Str("event_id", event.ID).
				Msg("payment succeeded for unknown intent")
			return OutcomeOrphaned, ErrOrphanedIntent
		}
		return OutcomeNoop, err
	}
	if rec.Status != purchase.StatusPending {
		return OutcomeDuplicate, nil
	}

	expected := rec.Total()
	if !withinTolerance(event.Amount, expected) {
		return i.markMismatch(ctx, event, rec)
	}
	// Dining orders were repriced line by line when the intent was created;
	// the stored total is authoritative here, so a menu price change between
	// checkout and webhook delivery cannot fail a legitimately paid order.
	if rec.Purpose != purchase.PurposeDining {
		quote, err := i.calc.Quote(ctx, rec.Purpose, rec.RefID, pricing.Hints{Qty: rec.Qty, Amount: rec.AmountCents})
		if err != nil {
			if isPricingRejection(err) {
				return i.markMismatch(ctx, event, rec)
			}
			return OutcomeNoop, err
		}
		if !withinTolerance(quote.Total(), expected) {
			return i.markMismatch(ctx, event, rec)
		}
	}

	outcome, err := i.fulfill(ctx, event, rec)
	if err != nil {
		return OutcomeNoop, err
	}
	return outcome, nil
}

// ErrOrphanedIntent keeps orphaned success events in the unprocessed ledger.
var ErrOrphanedIntent = errors.New("payment: no purchase record for intent")

// IsOrphaned reports whether the error marks a success event with no local
// purchase record.
func IsOrphaned(err error) bool {
	return errors.Is(err, ErrOrphanedIntent)
}

// withinTolerance allows a single cent of rounding drift between amounts.
func withinTolerance(got, want int64) bool {
	diff := got - want
	return diff >= -1 && diff <= 1
}

func isPricingRejection(err error) bool {
	return errors.Is(err, pricing.ErrNotFound) ||
		errors.Is(err, pricing.ErrSoldOut) ||
		errors.Is(err, pricing.ErrBelowMinimum) ||
		errors.Is(err, pricing.ErrAboveMaximum) ||
		errors.Is(err, pricing.ErrSubtotalMismatch) ||
		errors.Is(err, pricing.ErrInvalidQuantity)
}

func (i *Issuer) markMismatch(ctx context.Context, event Event, rec purchase.Record) (Outcome, error) {
	moved, err := i.purchases.MarkMismatch(ctx, event.IntentID)
	if err != nil {
		return OutcomeNoop, err
	}
	if !moved {
		return OutcomeDuplicate, nil
	}
	if obs.AmountMismatchTotal != nil {
		obs.AmountMismatchTotal.WithLabelValues(string(rec.Purpose)).Inc()
	}
	i.log.Error().
		Str("intent_id", event.IntentID).
		Str("purpose", string(rec.Purpose)).
		Int64("charged", event.Amount).
		Int64("recorded", rec.Total()).
		Msg("amount mismatch, fulfillment refused")
	i.broadcast.Wallet(ctx, rec.MemberID.String(), notify.Message{
		Kind:     "purchase.mismatch",
		IntentID: event.IntentID,
		Purpose:  string(rec.Purpose),
		Status:   string(purchase.StatusMismatch),
	})
	return OutcomeMismatch, nil
}

func (i *Issuer) fulfill(ctx context.Context, event Event, rec purchase.Record) (Outcome, error) {
	now := i.now().UTC()
	fulfillment := purchase.Fulfillment{IssuedAt: now}
	switch rec.Purpose {
	case purchase.PurposeEntry, purchase.PurposeVoucher:
		start := now
		end := now.Add(i.cfg.RedemptionWindow)
		fulfillment.WindowStart = &start
		fulfillment.WindowEnd = &end
	case purchase.PurposeDining:
		eta := now.Add(i.cfg.PickupETA)
		fulfillment.PickupETA = &eta
	}

	var moved bool
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewRedemptionCode(rec.Purpose, now)
		if err != nil {
			return OutcomeNoop, err
		}
		fulfillment.Code = code
		moved, err = i.purchases.MarkPaid(ctx, event.IntentID, fulfillment)
		if err == nil {
			break
		}
		if !errors.Is(err, purchase.ErrCodeTaken) {
			return OutcomeNoop, err
		}
		if attempt == maxCodeAttempts-1 {
			return OutcomeNoop, err
		}
	}
	if !moved {
		return OutcomeDuplicate, nil
	}

	if obs.EntitlementIssuedTotal != nil {
		obs.EntitlementIssuedTotal.WithLabelValues(string(rec.Purpose)).Inc()
	}
	i.log.Info().
		Str("intent_id", event.IntentID).
		Str("purpose", string(rec.Purpose)).
		Int64("amount", rec.Total()).
		Msg("entitlement issued")

	msg := notify.Message{
		Kind:       "purchase.paid",
		IntentID:   event.IntentID,
		Purpose:    string(rec.Purpose),
		Status:     string(purchase.StatusPaid),
		Code:       fulfillment.Code,
		OccurredAt: now,
	}
	if rec.Purpose == purchase.PurposeDining {
		msg.OrderID = rec.ID.String()
		i.broadcast.Kitchen(ctx, rec.RefID.String(), msg)
	}
	i.broadcast.Wallet(ctx, rec.MemberID.String(), msg)
	return OutcomeFulfilled, nil
}

func (i *Issuer) applyTransition(ctx context.Context, event Event, transition func(context.Context, string) (bool, error), outcome Outcome) (Outcome, error) {
	moved, err := transition(ctx, event.IntentID)
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			i.log.Warn().Str("intent_id", event.IntentID).Str("type", event.Type).
				Msg("processor event for unknown intent")
			return OutcomeOrphaned, nil
		}
		return OutcomeNoop, err
	}
	if !moved {
		return OutcomeNoop, nil
	}
	rec, err := i.purchases.GetByIntent(ctx, event.IntentID)
	if err == nil {
		i.broadcast.Wallet(ctx, rec.MemberID.String(), notify.Message{
			Kind:     "purchase." + string(outcome),
			IntentID: event.IntentID,
			Purpose:  string(rec.Purpose),
			Status:   string(rec.Status),
		})
	}
	return outcome, nil
}
