package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/riverbend-resort/wallet-api/internal/common"
	"github.com/riverbend-resort/wallet-api/internal/purchase"
)

// Handler exposes the intent creation and purchase status endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type intentReq struct {
	Purpose     string `json:"purpose" validate:"required,oneof=event tourney voucher order"`
	RefID       string `json:"refId" validate:"required_unless=Purpose voucher,omitempty,uuid4"`
	Qty         int32  `json:"qty" validate:"omitempty,min=1,max=20"`
	Amount      int64  `json:"amount" validate:"omitempty,min=1"`
	Description string `json:"description" validate:"omitempty,max=200"`
}

type intentResp struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
	Amount          int64  `json:"amount"`
}

type statusResp struct {
	PaymentIntentID string     `json:"paymentIntentId"`
	Purpose         string     `json:"purpose"`
	Status          string     `json:"status"`
	Amount          int64      `json:"amount"`
	Fee             int64      `json:"fee"`
	Code            *string    `json:"code,omitempty"`
	IssuedAt        *time.Time `json:"issuedAt,omitempty"`
	WindowStart     *time.Time `json:"windowStart,omitempty"`
	WindowEnd       *time.Time `json:"windowEnd,omitempty"`
	PickupETA       *time.Time `json:"pickupEta,omitempty"`
}

// CreateIntent handles POST /api/v1/wallet/intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	memberID, ok := memberFromContext(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	var req intentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request", validationDetails(err))
			return
		}
	}
	purpose, ok := purchase.ParsePurpose(strings.TrimSpace(req.Purpose))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown purpose", nil)
		return
	}
	var refID uuid.UUID
	if trimmed := strings.TrimSpace(req.RefID); trimmed != "" {
		parsed, err := uuid.Parse(trimmed)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid refId", nil)
			return
		}
		refID = parsed
	} else if purpose != purchase.PurposeVoucher {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "refId is required", nil)
		return
	}
	qty := req.Qty
	if purpose == purchase.PurposeTicket && qty == 0 {
		qty = 1
	}

	result, err := h.Svc.CreateIntent(r.Context(), memberID, IntentInput{
		Purpose:     purpose,
		RefID:       refID,
		Qty:         qty,
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, intentResp{
		PaymentIntentID: result.PaymentIntentID,
		ClientSecret:    result.ClientSecret,
		Amount:          result.Amount,
	})
}

// Status handles GET /api/v1/wallet/purchases/{intentId}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	memberID, ok := memberFromContext(r)
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "login required", nil)
		return
	}
	intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if intentID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "intentId is required", nil)
		return
	}
	rec, err := h.Svc.Status(r.Context(), memberID, intentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, statusResp{
		PaymentIntentID: rec.IntentID,
		Purpose:         string(rec.Purpose),
		Status:          string(rec.Status),
		Amount:          rec.AmountCents,
		Fee:             rec.FeeCents,
		Code:            rec.Code,
		IssuedAt:        rec.IssuedAt,
		WindowStart:     rec.WindowStart,
		WindowEnd:       rec.WindowEnd,
		PickupETA:       rec.PickupETA,
	})
}

func memberFromContext(r *http.Request) (uuid.UUID, bool) {
	raw, ok := common.UserID(r.Context())
	if !ok || strings.TrimSpace(raw) == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}
