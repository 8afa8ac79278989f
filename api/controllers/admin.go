package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiwanukadev/zawadi-backend/api/responses"
	"github.com/kiwanukadev/zawadi-backend/api/validators"
	"github.com/kiwanukadev/zawadi-backend/internal/checkout"
	"github.com/kiwanukadev/zawadi-backend/pkg/enums"
	pkgerrors "github.com/kiwanukadev/zawadi-backend/pkg/errors"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
)

type ipnRegistrar interface {
	RegisterIPN(ctx context.Context, ipnURL, notificationType string) (*pesapal.IPNRegistration, error)
}

type registerIPNRequest struct {
	URL              string `json:"url" validate:"required,url"`
	NotificationType string `json:"notification_type" validate:"omitempty,oneof=GET POST"`
}

// AdminRegisterIPN registers the webhook URL with the provider and
// returns the IPN id to put in configuration.
func AdminRegisterIPN(client ipnRegistrar, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerIPNRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		registration, err := client.RegisterIPN(r.Context(), req.URL, req.NotificationType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, registration)
	}
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=processing shipped delivered cancelled"`
}

// AdminUpdateOrderStatus moves an order through fulfillment.
func AdminUpdateOrderStatus(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := chi.URLParam(r, "reference")
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order reference required"))
			return
		}

		var req updateOrderStatusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.UpdateOrderStatus(r.Context(), reference, enums.OrderStatus(req.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{
			"reference": order.OrderNumber,
			"status":    string(order.Status),
		})
	}
}
