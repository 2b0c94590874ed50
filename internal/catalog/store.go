package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested catalog row does not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrStoreUnavailable indicates the store dependency is not configured.
var ErrStoreUnavailable = errors.New("catalog: store unavailable")

// Member is a resort member able to make purchases.
type Member struct {
	ID               uuid.UUID
	Email            string
	Name             string
	StripeCustomerID *string
}

// Event is a ticketed resort event.
type Event struct {
	ID         uuid.UUID
	Title      string
	PriceCents int64
	FeeCents   int64
	Capacity   int32
	Sold       int32
}

// Remaining reports how many tickets are still available.
func (e Event) Remaining() int32 {
	left := e.Capacity - e.Sold
	if left < 0 {
		return 0
	}
	return left
}

// Tournament is a poker tournament with a fixed buy-in.
type Tournament struct {
	ID             uuid.UUID
	Name           string
	BuyinCents     int64
	FeeCents       int64
	SeatsRemaining int32
}

// VoucherPolicy bounds the purchasable chip voucher amount.
type VoucherPolicy struct {
	MinCents int64
	MaxCents int64
}

// Order is a dining cart owned by a member and fulfilled by a vendor.
type Order struct {
	ID            uuid.UUID
	MemberID      uuid.UUID
	VendorID      uuid.UUID
	Status        string
	SubtotalCents int64
	TaxCents      int64
	TipCents      int64
	FeeCents      int64
	IntentID      *string
	PickupCode    *string
	PickupETA     *time.Time
}

// OrderLine is an order item joined with the current menu price.
type OrderLine struct {
	MenuItemID     uuid.UUID
	Qty            int32
	UnitPriceCents int64
}

// Store provides read access to the catalog rows that price computation trusts.
type Store interface {
	GetMember(ctx context.Context, id uuid.UUID) (Member, error)
	SetMemberCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
	GetEvent(ctx context.Context, id uuid.UUID) (Event, error)
	GetTournament(ctx context.Context, id uuid.UUID) (Tournament, error)
	GetVoucherPolicy(ctx context.Context) (VoucherPolicy, error)
	GetOrder(ctx context.Context, id uuid.UUID) (Order, error)
	ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error)
}

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) GetMember(ctx context.Context, id uuid.UUID) (Member, error) {
	if s == nil || s.pool == nil {
		return Member{}, ErrStoreUnavailable
	}
	const q = `SELECT id, email, name, stripe_customer_id FROM members WHERE id = $1`
	var m Member
	err := s.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.Email, &m.Name, &m.StripeCustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrNotFound
		}
		return Member{}, err
	}
	return m, nil
}

func (s *pgStore) SetMemberCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	if s == nil || s.pool == nil {
		return ErrStoreUnavailable
	}
	const q = `UPDATE members SET stripe_customer_id = $2, updated_at = now() WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, customerID)
	return err
}

func (s *pgStore) GetEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	if s == nil || s.pool == nil {
		return Event{}, ErrStoreUnavailable
	}
	const q = `SELECT id, title, price_cents, fee_cents, capacity, sold FROM events WHERE id = $1`
	var e Event
	err := s.pool.QueryRow(ctx, q, id).Scan(&e.ID, &e.Title, &e.PriceCents, &e.FeeCents, &e.Capacity, &e.Sold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, err
	}
	return e, nil
}

func (s *pgStore) GetTournament(ctx context.Context, id uuid.UUID) (Tournament, error) {
	if s == nil || s.pool == nil {
		return Tournament{}, ErrStoreUnavailable
	}
	const q = `SELECT id, name, buyin_cents, fee_cents, seats_remaining FROM tournaments WHERE id = $1`
	var t Tournament
	err := s.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.BuyinCents, &t.FeeCents, &t.SeatsRemaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tournament{}, ErrNotFound
		}
		return Tournament{}, err
	}
	return t, nil
}

func (s *pgStore) GetVoucherPolicy(ctx context.Context) (VoucherPolicy, error) {
	if s == nil || s.pool == nil {
		return VoucherPolicy{}, ErrStoreUnavailable
	}
	const q = `SELECT min_cents, max_cents FROM voucher_policies WHERE id = 1`
	var p VoucherPolicy
	err := s.pool.QueryRow(ctx, q).Scan(&p.MinCents, &p.MaxCents)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoucherPolicy{}, ErrNotFound
		}
		return VoucherPolicy{}, err
	}
	return p, nil
}

func (s *pgStore) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	if s == nil || s.pool == nil {
		return Order{}, ErrStoreUnavailable
	}
	const q = `SELECT id, member_id, vendor_id, status, subtotal_cents, tax_cents, tip_cents, fee_cents,
		stripe_payment_intent_id, pickup_code, pickup_eta
		FROM orders WHERE id = $1`
	var o Order
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&o.ID, &o.MemberID, &o.VendorID, &o.Status, &o.SubtotalCents, &o.TaxCents, &o.TipCents, &o.FeeCents,
		&o.IntentID, &o.PickupCode, &o.PickupETA,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return o, nil
}

func (s *pgStore) ListOrderLines(ctx context.Context, orderID uuid.UUID) ([]OrderLine, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	const q = `SELECT oi.menu_item_id, oi.qty, mi.price_cents
		FROM order_items oi
		JOIN menu_items mi ON mi.id = oi.menu_item_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`
	rows, err := s.pool.Query(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []OrderLine
	for rows.Next() {
		var line OrderLine
		if err := rows.Scan(&line.MenuItemID, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}
