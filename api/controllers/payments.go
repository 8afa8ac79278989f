package controllers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

type callbackProcessor interface {
	ProcessCallback(ctx context.Context, trackingID, merchantReference string) (*payments.SyncResult, error)
}

// PaymentCallback lands the customer's browser after the gateway iframe.
// It reconciles eagerly so the result page usually sees the final state,
// then redirects. Failures redirect to a generic error state; nothing
// about internals leaks into the browser.
func PaymentCallback(svc callbackProcessor, cfg config.AppConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		trackingID := strings.TrimSpace(r.URL.Query().Get("OrderTrackingId"))
		reference := strings.TrimSpace(r.URL.Query().Get("OrderMerchantReference"))

		result, err := svc.ProcessCallback(r.Context(), trackingID, reference)
		if err != nil {
			if logg != nil {
				logg.Error(logg.WithReference(r.Context(), reference), "callback reconciliation failed", err)
			}
			redirectToResult(w, r, cfg.ResultURL, url.Values{"status": {"error"}})
			return
		}

		params := url.Values{
			"reference": {result.Payable.Reference()},
			"status":    {string(result.PaymentStatus)},
		}
		if result.SessionToken != "" {
			params.Set("token", result.SessionToken)
		}
		redirectToResult(w, r, cfg.ResultURL, params)
	}
}

func redirectToResult(w http.ResponseWriter, r *http.Request, base string, params url.Values) {
	target := base
	if encoded := params.Encode(); encoded != "" {
		separator := "?"
		if strings.Contains(base, "?") {
			separator = "&"
		}
		target = base + separator + encoded
	}
	http.Redirect(w, r, target, http.StatusFound)
}
