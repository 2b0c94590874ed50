package pricing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/riverbend-resort/wallet-api/internal/catalog"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

// Pricing failures surfaced to the intent endpoint. All are client errors;
// anything else bubbling out of Quote is an infrastructure fault.
var (
	ErrNotFound         = errors.New("pricing: reference not found")
	ErrSoldOut          = errors.New("pricing: sold out")
	ErrBelowMinimum     = errors.New("pricing: amount below minimum")
	ErrAboveMaximum     = errors.New("pricing: amount above maximum")
	ErrSubtotalMismatch = errors.New("pricing: stored subtotal does not match catalog prices")
	ErrInvalidQuantity  = errors.New("pricing: invalid quantity")
)

// voucherFlatFeeCents is the fixed component of the voucher fee schedule.
// The percentage component is 3%, rounded half-up in cents.
const voucherFlatFeeCents = 299

// subtotalToleranceCents allows stored dining subtotals to drift by one cent
// from the recomputation before the order is rejected.
const subtotalToleranceCents = 1

// Hints carries the only client inputs pricing accepts: a ticket quantity
// and the voucher base amount. Everything else comes from the catalog.
type Hints struct {
	Qty    int32
	Amount int64
}

// Quote is a server-computed charge. The processor is asked for
// Amount + Fee; both halves are persisted on the purchase record.
type Quote struct {
	Amount int64
	Fee    int64
}

// Total is the amount submitted to the payment processor.
func (q Quote) Total() int64 {
	return q.Amount + q.Fee
}

// Calculator derives authoritative charge amounts from catalog state.
type Calculator struct {
	store catalog.Store
}

// NewCalculator constructs a Calculator over the given catalog store.
func NewCalculator(store catalog.Store) *Calculator {
	return &Calculator{store: store}
}

// Quote computes the charge for a purchase purpose and reference. Client
// amounts are never trusted: tickets and entries price from the catalog row,
// vouchers bounds-check the requested base amount, and dining orders reprice
// every line at current menu prices.
func (c *Calculator) Quote(ctx context.Context, purpose purchase.Purpose, refID uuid.UUID, hints Hints) (Quote, error) {
	switch purpose {
	case purchase.PurposeTicket:
		return c.quoteTicket(ctx, refID, hints.Qty)
	case purchase.PurposeEntry:
		return c.quoteEntry(ctx, refID)
	case purchase.PurposeVoucher:
		return c.quoteVoucher(ctx, hints.Amount)
	case purchase.PurposeDining:
		return c.quoteOrder(ctx, refID)
	}
	return Quote{}, ErrNotFound
}

func (c *Calculator) quoteTicket(ctx context.Context, eventID uuid.UUID, qty int32) (Quote, error) {
	if qty < 1 {
		return Quote{}, ErrInvalidQuantity
	}
	event, err := c.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	if event.Remaining() < qty {
		return Quote{}, ErrSoldOut
	}
	return Quote{
		Amount: event.PriceCents * int64(qty),
		Fee:    event.FeeCents * int64(qty),
	}, nil
}

func (c *Calculator) quoteEntry(ctx context.Context, tournamentID uuid.UUID) (Quote, error) {
	tournament, err := c.store.GetTournament(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	if tournament.SeatsRemaining < 1 {
		return Quote{}, ErrSoldOut
	}
	return Quote{Amount: tournament.BuyinCents, Fee: tournament.FeeCents}, nil
}

func (c *Calculator) quoteVoucher(ctx context.Context, amount int64) (Quote, error) {
	policy, err := c.store.GetVoucherPolicy(ctx)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	if amount < policy.MinCents {
		return Quote{}, ErrBelowMinimum
	}
	if amount > policy.MaxCents {
		return Quote{}, ErrAboveMaximum
	}
	return Quote{Amount: amount, Fee: VoucherFee(amount)}, nil
}

// VoucherFee is 3% of the base amount, rounded half-up, plus a flat 299
// cents.
func VoucherFee(amount int64) int64 {
	return (amount*3+50)/100 + voucherFlatFeeCents
}

func (c *Calculator) quoteOrder(ctx context.Context, orderID uuid.UUID) (Quote, error) {
	order, err := c.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	lines, err := c.store.ListOrderLines(ctx, orderID)
	if err != nil {
		return Quote{}, err
	}
	var subtotal int64
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		subtotal += int64(line.Qty) * line.UnitPriceCents
	}
	drift := subtotal - order.SubtotalCents
	if drift < 0 {
		drift = -drift
	}
	if drift > subtotalToleranceCents {
		return Quote{}, ErrSubtotalMismatch
	}
	return Quote{
		Amount: subtotal + order.TaxCents + order.TipCents,
		Fee:    order.FeeCents,
	}, nil
}
