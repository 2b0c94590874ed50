package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the purchase store dependency is not configured.
var ErrStoreUnavailable = errors.New("purchase: store unavailable")

// ErrNotFound indicates no purchase row matches the lookup.
var ErrNotFound = errors.New("purchase: not found")

// ErrCodeTaken indicates the generated redemption code collided with an
// existing one. Callers regenerate and retry.
var ErrCodeTaken = errors.New("purchase: redemption code taken")

const uniqueViolation = "23505"

// Fulfillment carries the entitlement details applied when a purchase
// transitions to paid.
type Fulfillment struct {
	Code        string
	IssuedAt    time.Time
	WindowStart *time.Time
	WindowEnd   *time.Time
	PickupETA   *time.Time
}

// Store persists purchase records and applies guarded status transitions.
type Store interface {
	Create(ctx context.Context, rec Record) (Record, error)
	AttachOrderIntent(ctx context.Context, orderID uuid.UUID, intentID string, feeCents int64) error
	GetByIntent(ctx context.Context, intentID string) (Record, error)
	MarkPaid(ctx context.Context, intentID string, f Fulfillment) (bool, error)
	MarkMismatch(ctx context.Context, intentID string) (bool, error)
	MarkCanceled(ctx context.Context, intentID string) (bool, error)
	MarkRefunded(ctx context.Context, intentID string) (bool, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// Create inserts a pending purchase row for the given intent. Dining orders
// are pre-existing rows and go through AttachOrderIntent instead.
func (s *pgStore) Create(ctx context.Context, rec Record) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	switch rec.Purpose {
	case PurposeTicket:
		err := s.pool.QueryRow(ctx, `INSERT INTO ticket_purchases (member_id, event_id, qty, amount_cents, fee_cents, stripe_payment_intent_id)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			rec.MemberID, rec.RefID, rec.Qty, rec.AmountCents, rec.FeeCents, rec.IntentID).Scan(&rec.ID)
		if err != nil {
			return Record{}, err
		}
	case PurposeEntry:
		err := s.pool.QueryRow(ctx, `INSERT INTO entry_purchases (member_id, tournament_id, amount_cents, fee_cents, stripe_payment_intent_id)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			rec.MemberID, rec.RefID, rec.AmountCents, rec.FeeCents, rec.IntentID).Scan(&rec.ID)
		if err != nil {
			return Record{}, err
		}
	case PurposeVoucher:
		err := s.pool.QueryRow(ctx, `INSERT INTO voucher_purchases (member_id, amount_cents, fee_cents, stripe_payment_intent_id)
VALUES ($1, $2, $3, $4) RETURNING id`,
			rec.MemberID, rec.AmountCents, rec.FeeCents, rec.IntentID).Scan(&rec.ID)
		if err != nil {
			return Record{}, err
		}
	default:
		return Record{}, errors.New("purchase: unsupported purpose for create")
	}
	rec.Status = StatusPending
	return rec, nil
}

// AttachOrderIntent binds a payment intent to an existing dining order. The
// order keeps its cart status; only fulfillment promotes it.
func (s *pgStore) AttachOrderIntent(ctx context.Context, orderID uuid.UUID, intentID string, feeCents int64) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.pool.Exec(ctx, `UPDATE orders
SET stripe_payment_intent_id = $2, fee_cents = $3, updated_at = now()
WHERE id = $1 AND status IN ('cart', 'pending')`, orderID, intentID, feeCents)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByIntent resolves the purchase row bound to a processor intent,
// whichever variant table it lives in.
func (s *pgStore) GetByIntent(ctx context.Context, intentID string) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrStoreUnavailable
	}
	var rec Record
	rec.IntentID = intentID

	err := s.pool.QueryRow(ctx, `SELECT id, member_id, event_id, qty, amount_cents, fee_cents, status, barcode, issued_at
FROM ticket_purchases WHERE stripe_payment_intent_id = $1`, intentID).Scan(
		&rec.ID, &rec.MemberID, &rec.RefID, &rec.Qty, &rec.AmountCents, &rec.FeeCents, &rec.Status, &rec.Code, &rec.IssuedAt)
	if err == nil {
		rec.Purpose = PurposeTicket
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, err
	}

	err = s.pool.QueryRow(ctx, `SELECT id, member_id, tournament_id, amount_cents, fee_cents, status, entry_code, issued_at, window_start, window_end
FROM entry_purchases WHERE stripe_payment_intent_id = $1`, intentID).Scan(
		&rec.ID, &rec.MemberID, &rec.RefID, &rec.AmountCents, &rec.FeeCents, &rec.Status, &rec.Code, &rec.IssuedAt, &rec.WindowStart, &rec.WindowEnd)
	if err == nil {
		rec.Purpose = PurposeEntry
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, err
	}

	err = s.pool.QueryRow(ctx, `SELECT id, member_id, amount_cents, fee_cents, status, voucher_code, issued_at, window_start, window_end
FROM voucher_purchases WHERE stripe_payment_intent_id = $1`, intentID).Scan(
		&rec.ID, &rec.MemberID, &rec.AmountCents, &rec.FeeCents, &rec.Status, &rec.Code, &rec.IssuedAt, &rec.WindowStart, &rec.WindowEnd)
	if err == nil {
		rec.Purpose = PurposeVoucher
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, err
	}

	var orderStatus string
	err = s.pool.QueryRow(ctx, `SELECT id, member_id, vendor_id, status, subtotal_cents + tax_cents + tip_cents, fee_cents, pickup_code, placed_at, pickup_eta
FROM orders WHERE stripe_payment_intent_id = $1`, intentID).Scan(
		&rec.ID, &rec.MemberID, &rec.RefID, &orderStatus, &rec.AmountCents, &rec.FeeCents, &rec.Code, &rec.IssuedAt, &rec.PickupETA)
	if err == nil {
		rec.Purpose = PurposeDining
		rec.Status = orderStatusToPurchase(orderStatus)
		return rec, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return Record{}, err
}

func orderStatusToPurchase(status string) Status {
	switch status {
	case "cart", "pending":
		return StatusPending
	case "placed", "ready", "picked_up":
		return StatusPaid
	default:
		return Status(status)
	}
}

// MarkPaid transitions a pending purchase to paid and applies its
// entitlement. It returns false without error when the row is not pending,
// which callers treat as a no-op on terminal states.
func (s *pgStore) MarkPaid(ctx context.Context, intentID string, f Fulfillment) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreUnavailable
	}
	rec, err := s.GetByIntent(ctx, intentID)
	if err != nil {
		return false, err
	}
	if rec.Status != StatusPending {
		return false, nil
	}

	// Inventory counters belong to the booking flow; fulfillment only moves
	// the purchase row.
	var tag pgconn.CommandTag
	switch rec.Purpose {
	case PurposeTicket:
		tag, err = s.pool.Exec(ctx, `UPDATE ticket_purchases
SET status = 'paid', barcode = $2, issued_at = $3, updated_at = now()
WHERE stripe_payment_intent_id = $1 AND status = 'pending'`, intentID, f.Code, f.IssuedAt)
	case PurposeEntry:
		tag, err = s.pool.Exec(ctx, `UPDATE entry_purchases
SET status = 'paid', entry_code = $2, issued_at = $3, window_start = $4, window_end = $5, updated_at = now()
WHERE stripe_payment_intent_id = $1 AND status = 'pending'`, intentID, f.Code, f.IssuedAt, f.WindowStart, f.WindowEnd)
	case PurposeVoucher:
		tag, err = s.pool.Exec(ctx, `UPDATE voucher_purchases
SET status = 'paid', voucher_code = $2, issued_at = $3, window_start = $4, window_end = $5, updated_at = now()
WHERE stripe_payment_intent_id = $1 AND status = 'pending'`, intentID, f.Code, f.IssuedAt, f.WindowStart, f.WindowEnd)
	case PurposeDining:
		tag, err = s.pool.Exec(ctx, `UPDATE orders
SET status = 'placed', pickup_code = $2, placed_at = $3, pickup_eta = $4, updated_at = now()
WHERE stripe_payment_intent_id = $1 AND status IN ('cart', 'pending')`, intentID, f.Code, f.IssuedAt, f.PickupETA)
	default:
		return false, errors.New("purchase: unsupported purpose")
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, ErrCodeTaken
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkMismatch transitions a pending purchase to payment_mismatch.
func (s *pgStore) MarkMismatch(ctx context.Context, intentID string) (bool, error) {
	return s.guardedTransition(ctx, intentID, "payment_mismatch", []string{"pending"}, false)
}

// MarkCanceled transitions a pending purchase to canceled.
func (s *pgStore) MarkCanceled(ctx context.Context, intentID string) (bool, error) {
	return s.guardedTransition(ctx, intentID, "canceled", []string{"pending"}, false)
}

// MarkRefunded transitions a paid purchase to refunded and revokes its
// redemption code.
func (s *pgStore) MarkRefunded(ctx context.Context, intentID string) (bool, error) {
	return s.guardedTransition(ctx, intentID, "refunded", []string{"paid"}, true)
}

func (s *pgStore) guardedTransition(ctx context.Context, intentID, to string, from []string, clearCode bool) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrStoreUnavailable
	}
	rec, err := s.GetByIntent(ctx, intentID)
	if err != nil {
		return false, err
	}
	allowed := false
	for _, f := range from {
		if rec.Status == Status(f) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	var table, codeColumn string
	fromStates := from
	switch rec.Purpose {
	case PurposeTicket:
		table, codeColumn = "ticket_purchases", "barcode"
	case PurposeEntry:
		table, codeColumn = "entry_purchases", "entry_code"
	case PurposeVoucher:
		table, codeColumn = "voucher_purchases", "voucher_code"
	case PurposeDining:
		table, codeColumn = "orders", "pickup_code"
		// order rows use kitchen states once paid
		if to == "refunded" {
			fromStates = []string{"placed", "ready"}
		} else {
			fromStates = []string{"cart", "pending"}
		}
	default:
		return false, errors.New("purchase: unsupported purpose")
	}

	q := `UPDATE ` + table + ` SET status = $2, updated_at = now()`
	if clearCode {
		q += `, ` + codeColumn + ` = NULL`
	}
	q += ` WHERE stripe_payment_intent_id = $1 AND status = ANY($3)`
	tag, err := s.pool.Exec(ctx, q, intentID, to, fromStates)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
