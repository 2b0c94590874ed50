package purchase

import (
	"time"

	"github.com/google/uuid"
)

// Purpose identifies what a payment intent buys.
type Purpose string

const (
	PurposeTicket  Purpose = "ticket"
	PurposeEntry   Purpose = "tournament_entry"
	PurposeVoucher Purpose = "chip_voucher"
	PurposeDining  Purpose = "dining_order"
)

// ParsePurpose maps the API's short purpose names onto Purpose values.
func ParsePurpose(s string) (Purpose, bool) {
	switch s {
	case "event", "ticket":
		return PurposeTicket, true
	case "tourney", "tournament_entry":
		return PurposeEntry, true
	case "voucher", "chip_voucher":
		return PurposeVoucher, true
	case "order", "dining_order":
		return PurposeDining, true
	}
	return "", false
}

// Valid reports whether p is one of the four supported purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeTicket, PurposeEntry, PurposeVoucher, PurposeDining:
		return true
	}
	return false
}

// Status is the lifecycle state of a purchase record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusMismatch Status = "payment_mismatch"
	StatusCanceled Status = "canceled"
	StatusRefunded Status = "refunded"
)

// Terminal reports whether the status accepts no further processor-driven
// transitions other than paid -> refunded.
func (s Status) Terminal() bool {
	switch s {
	case StatusMismatch, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

// Record is the purchase row tracked for a payment intent, normalized
// across the four purchase variants.
type Record struct {
	ID          uuid.UUID
	Purpose     Purpose
	MemberID    uuid.UUID
	RefID       uuid.UUID
	Qty         int32
	AmountCents int64
	FeeCents    int64
	Status      Status
	IntentID    string
	Code        *string
	IssuedAt    *time.Time
	WindowStart *time.Time
	WindowEnd   *time.Time
	PickupETA   *time.Time
}

// Total is the charge amount submitted to the processor.
func (r Record) Total() int64 {
	return r.AmountCents + r.FeeCents
}
