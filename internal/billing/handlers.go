package billing

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/gym-payments/internal/common"
	"github.com/noah-isme/gym-payments/internal/payment"
)

// Handler exposes the payment and subscription endpoints.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Middlewares are applied per route group.
type Middlewares struct {
	Initiate []func(http.Handler) http.Handler
	Callback []func(http.Handler) http.Handler
}

type initiateRequest struct {
	PayerID string `json:"payerId" validate:"required,max=254"`
}

// Routes mounts the handlers under /api/v1.
func (h *Handler) Routes(r chi.Router, mw Middlewares) {
	r.Route("/api/v1", func(r chi.Router) {
		r.With(mw.Initiate...).Post("/payments/{provider}/initiate", h.Initiate)
		r.Group(func(r chi.Router) {
			r.Use(mw.Callback...)
			r.Get("/payments/{provider}/callback", h.Callback)
			r.Post("/payments/{provider}/callback", h.Callback)
		})
		r.Get("/subscriptions/{payerId}", h.GetSubscription)
	})
}

// Initiate starts a payment and returns either a form to auto-submit or a
// redirect URL.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	req.PayerID = strings.TrimSpace(req.PayerID)
	if err := h.validator().Struct(req); err != nil {
		common.WriteError(w, common.NewAppError(http.StatusBadRequest, "VALIDATION_FAILED", "payerId is required", err).
			WithDetails(validationDetails(err)))
		return
	}
	res, err := h.Svc.Initiate(r.Context(), chi.URLParam(r, "provider"), req.PayerID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if !res.Success {
		common.WriteError(w, paymentError(res.Err, res.Error))
		return
	}
	common.Data(w, http.StatusOK, res)
}

// Callback receives the provider redirect, as query parameters or a form post.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid callback payload", nil)
		return
	}
	payload := make(map[string]string, len(r.Form))
	for k, values := range r.Form {
		if len(values) > 0 {
			payload[k] = values[0]
		}
	}

	done, err := h.Svc.Complete(r.Context(), chi.URLParam(r, "provider"), payload)
	switch {
	case err == nil:
		common.Data(w, http.StatusOK, done)
	case errors.Is(err, ErrAlreadyConsumed):
		common.WriteError(w, common.NewAppError(http.StatusConflict, "PAYMENT_ALREADY_PROCESSED", "payment already processed", err))
	case errors.Is(err, ErrUnknownReference):
		common.WriteError(w, common.NewAppError(http.StatusNotFound, "UNKNOWN_REFERENCE", "payment reference not found", err))
	default:
		common.WriteError(w, paymentError(err, err.Error()))
	}
}

// GetSubscription reports the membership state of a payer.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	payerID := strings.TrimSpace(chi.URLParam(r, "payerId"))
	if payerID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "payerId is required", nil)
		return
	}
	sub, found, err := h.Svc.Subscription(r.Context(), payerID)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if !found {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no subscription for payer", nil)
		return
	}
	common.Data(w, http.StatusOK, sub)
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		h.Validate = validator.New()
	}
	return h.Validate
}

// paymentError maps payment failure kinds to API errors. Signature failures
// get a fixed message so callers learn nothing about the digest.
func paymentError(err error, message string) *common.AppError {
	switch payment.KindOf(err) {
	case payment.KindUnknownProvider:
		return common.NewAppError(http.StatusNotFound, "UNKNOWN_PROVIDER", message, err)
	case payment.KindValidation:
		return common.NewAppError(http.StatusBadRequest, "VALIDATION_FAILED", message, err)
	case payment.KindConfiguration:
		return common.NewAppError(http.StatusInternalServerError, "PROVIDER_NOT_CONFIGURED", "payment provider is not available", err)
	case payment.KindSignature:
		return common.NewAppError(http.StatusUnauthorized, "INVALID_SIGNATURE", "invalid payment signature", err)
	case payment.KindDeclined:
		return common.NewAppError(http.StatusPaymentRequired, "PAYMENT_DECLINED", message, err)
	case payment.KindRemote:
		return common.NewAppError(http.StatusServiceUnavailable, "PAYMENT_SERVICE_UNAVAILABLE", "payment service unavailable, try again", err)
	}
	return common.AsAppError(err)
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
