package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/kiwanukadev/zawadi-backend/api/responses"
	"github.com/kiwanukadev/zawadi-backend/api/validators"
	"github.com/kiwanukadev/zawadi-backend/internal/checkout"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

const (
	maxNameLength    = 120
	maxMessageLength = 500
)

type createOrderRequest struct {
	Email    string          `json:"email"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Password string          `json:"password"`
}

type createDonationRequest struct {
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Message   string          `json:"message"`
	Anonymous bool            `json:"anonymous"`
}

// CreateOrder accepts a checkout submission and returns the payment
// redirect the customer should be sent to.
func CreateOrder(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateOrder(r.Context(), checkout.CreateOrderInput{
			CustomerEmail: validators.SanitizeString(req.Email, 0),
			CustomerName:  validators.SanitizeString(req.Name, maxNameLength),
			Amount:        req.Amount,
			Currency:      req.Currency,
			Password:      req.Password,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CreateDonation accepts a donation submission.
func CreateDonation(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createDonationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateDonation(r.Context(), checkout.CreateDonationInput{
			DonorEmail: validators.SanitizeString(req.Email, 0),
			DonorName:  validators.SanitizeString(req.Name, maxNameLength),
			Amount:     req.Amount,
			Currency:   req.Currency,
			Message:    validators.SanitizeString(req.Message, maxMessageLength),
			Anonymous:  req.Anonymous,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// OrderPayment serves the payment state a result page polls for.
func OrderPayment(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := chi.URLParam(r, "reference")
		view, err := svc.OrderPayment(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// DonationPayment mirrors OrderPayment for donations.
func DonationPayment(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := chi.URLParam(r, "reference")
		view, err := svc.DonationPayment(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
