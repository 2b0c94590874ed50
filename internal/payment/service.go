package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riverbend-resort/wallet-api/internal/catalog"
	"github.com/riverbend-resort/wallet-api/internal/common"
	"github.com/riverbend-resort/wallet-api/internal/obs"
	"github.com/riverbend-resort/wallet-api/internal/pricing"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

// IntentInput is the validated request for opening a payment intent. Amount
// is only honored for vouchers, and even then it is bounds-checked.
type IntentInput struct {
	Purpose     purchase.Purpose
	RefID       uuid.UUID
	Qty         int32
	Amount      int64
	Description string
}

// IntentResult is returned to the client to drive the processor's
// confirmation flow.
type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	Amount          int64
}

// Service issues payment intents with server-computed amounts and records
// the pending purchase each intent pays for.
type Service struct {
	catalog   catalog.Store
	calc      *pricing.Calculator
	purchases purchase.Store
	processor Processor
	currency  string
	log       zerolog.Logger
}

// NewService constructs a Service.
func NewService(cat catalog.Store, calc *pricing.Calculator, purchases purchase.Store, processor Processor, currency string, log zerolog.Logger) *Service {
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		catalog:   cat,
		calc:      calc,
		purchases: purchases,
		processor: processor,
		currency:  currency,
		log:       log,
	}
}

// CreateIntent prices the purchase from catalog state, opens a processor
// intent for that amount, and records the pending purchase keyed by the
// intent id.
func (s *Service) CreateIntent(ctx context.Context, memberID uuid.UUID, input IntentInput) (IntentResult, error) {
	member, err := s.catalog.GetMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return IntentResult{}, common.NewAppError("MEMBER_NOT_FOUND", "member not found", http.StatusNotFound, err)
		}
		return IntentResult{}, err
	}

	if input.Purpose == purchase.PurposeDining {
		order, err := s.catalog.GetOrder(ctx, input.RefID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return IntentResult{}, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
			}
			return IntentResult{}, err
		}
		if order.MemberID != memberID {
			return IntentResult{}, common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, nil)
		}
	}

	quote, err := s.calc.Quote(ctx, input.Purpose, input.RefID, pricing.Hints{Qty: input.Qty, Amount: input.Amount})
	if err != nil {
		s.countIntent(input.Purpose, "rejected")
		return IntentResult{}, pricingError(err)
	}

	customerID, err := s.ensureCustomer(ctx, member)
	if err != nil {
		s.countIntent(input.Purpose, "error")
		return IntentResult{}, err
	}

	intent, err := s.processor.CreateIntent(ctx, IntentRequest{
		Amount:      quote.Total(),
		Currency:    s.currency,
		CustomerID:  customerID,
		Description: input.Description,
		IdempotencyKey: fmt.Sprintf("intent:%s:%s:%s:%d",
			input.Purpose, input.RefID, memberID, quote.Total()),
		Metadata: map[string]string{
			"member_id": memberID.String(),
			"purpose":   string(input.Purpose),
			"ref_id":    input.RefID.String(),
		},
	})
	if err != nil {
		s.countIntent(input.Purpose, "error")
		return IntentResult{}, err
	}

	if input.Purpose == purchase.PurposeDining {
		err = s.purchases.AttachOrderIntent(ctx, input.RefID, intent.ID, quote.Fee)
	} else {
		_, err = s.purchases.Create(ctx, purchase.Record{
			Purpose:     input.Purpose,
			MemberID:    memberID,
			RefID:       input.RefID,
			Qty:         input.Qty,
			AmountCents: quote.Amount,
			FeeCents:    quote.Fee,
			IntentID:    intent.ID,
		})
	}
	if err != nil {
		s.countIntent(input.Purpose, "error")
		return IntentResult{}, err
	}

	s.countIntent(input.Purpose, "created")
	s.log.Info().
		Str("purpose", string(input.Purpose)).
		Str("intent_id", intent.ID).
		Int64("amount", quote.Total()).
		Msg("payment intent created")
	return IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          quote.Total(),
	}, nil
}

// Status returns the purchase bound to an intent, scoped to its owner.
func (s *Service) Status(ctx context.Context, memberID uuid.UUID, intentID string) (purchase.Record, error) {
	rec, err := s.purchases.GetByIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, purchase.ErrNotFound) {
			return purchase.Record{}, common.NewAppError("PURCHASE_NOT_FOUND", "purchase not found", http.StatusNotFound, err)
		}
		return purchase.Record{}, err
	}
	if rec.MemberID != memberID {
		return purchase.Record{}, common.NewAppError("PURCHASE_NOT_FOUND", "purchase not found", http.StatusNotFound, nil)
	}
	return rec, nil
}

func (s *Service) ensureCustomer(ctx context.Context, member catalog.Member) (string, error) {
	if member.StripeCustomerID != nil && *member.StripeCustomerID != "" {
		return *member.StripeCustomerID, nil
	}
	customerID, err := s.processor.EnsureCustomer(ctx, member.ID.String(), member.Email, member.Name)
	if err != nil {
		return "", err
	}
	if err := s.catalog.SetMemberCustomerID(ctx, member.ID, customerID); err != nil {
		// not fatal; the next intent will create another customer
		s.log.Warn().Err(err).Str("member_id", member.ID.String()).Msg("persist customer id failed")
	}
	return customerID, nil
}

func (s *Service) countIntent(purpose purchase.Purpose, result string) {
	if obs.WalletIntentTotal != nil {
		obs.WalletIntentTotal.WithLabelValues(string(purpose), result).Inc()
	}
}

func pricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrNotFound):
		return common.NewAppError("REFERENCE_NOT_FOUND", "reference not found", http.StatusNotFound, err)
	case errors.Is(err, pricing.ErrSoldOut):
		return common.NewAppError("SOLD_OUT", "no remaining inventory", http.StatusConflict, err)
	case errors.Is(err, pricing.ErrBelowMinimum):
		return common.NewAppError("BELOW_MINIMUM", "amount below policy minimum", http.StatusUnprocessableEntity, err)
	case errors.Is(err, pricing.ErrAboveMaximum):
		return common.NewAppError("ABOVE_MAXIMUM", "amount above policy maximum", http.StatusUnprocessableEntity, err)
	case errors.Is(err, pricing.ErrSubtotalMismatch):
		return common.NewAppError("SUBTOTAL_MISMATCH", "cart totals no longer match catalog prices", http.StatusConflict, err)
	case errors.Is(err, pricing.ErrInvalidQuantity):
		return common.NewAppError("INVALID_QUANTITY", "quantity must be at least 1", http.StatusUnprocessableEntity, err)
	}
	return err
}
