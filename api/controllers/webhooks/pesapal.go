package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
)

const defaultNotificationType = "IPNCHANGE"

// ipnNotification is the provider's delivery, sent either as query
// parameters (GET) or a JSON body (POST).
type ipnNotification struct {
	NotificationType  string `json:"OrderNotificationType"`
	TrackingID        string `json:"OrderTrackingId"`
	MerchantReference string `json:"OrderMerchantReference"`
}

// ipnEnvelope is the acknowledgement contract. The provider retries on
// status 500 and stops on 200; the HTTP status itself is always 200.
type ipnEnvelope struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

type ipnProcessor interface {
	ProcessIPN(ctx context.Context, trackingID, merchantReference string) (*payments.SyncResult, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Delete(ctx context.Context, deliveryID string) error
}

// PesapalIPN handles the server-to-server notification. Nothing escapes
// this boundary: every failure becomes a 500 envelope so the provider
// retries instead of marking the endpoint broken.
func PesapalIPN(svc ipnProcessor, guard deliveryGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		notification := decodeIPN(r)

		envelope := ipnEnvelope{
			OrderNotificationType:  notification.NotificationType,
			OrderTrackingID:        notification.TrackingID,
			OrderMerchantReference: notification.MerchantReference,
			Status:                 http.StatusInternalServerError,
		}

		if notification.TrackingID == "" || notification.MerchantReference == "" {
			if logg != nil {
				logg.Warn(ctx, "ipn delivery missing required fields")
			}
			writeIPN(ctx, logg, w, envelope)
			return
		}

		ctx = logContext(ctx, logg, notification)

		deliveryID := notification.TrackingID + "|" + notification.MerchantReference + "|" + notification.NotificationType
		if guard != nil {
			seen, err := guard.CheckAndMark(ctx, deliveryID)
			if err != nil && logg != nil {
				// Redis being down never blocks reconciliation.
				logg.Error(ctx, "ipn idempotency check failed", err)
			}
			if err == nil && seen {
				envelope.Status = http.StatusOK
				writeIPN(ctx, logg, w, envelope)
				return
			}
		}

		if _, err := svc.ProcessIPN(ctx, notification.TrackingID, notification.MerchantReference); err != nil {
			if logg != nil {
				logg.Error(ctx, "ipn reconciliation failed", err)
			}
			if guard != nil {
				_ = guard.Delete(ctx, deliveryID)
			}
			writeIPN(ctx, logg, w, envelope)
			return
		}

		envelope.Status = http.StatusOK
		writeIPN(ctx, logg, w, envelope)
	}
}

func decodeIPN(r *http.Request) ipnNotification {
	var notification ipnNotification
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&notification)
	}
	if notification.TrackingID == "" {
		notification.TrackingID = strings.TrimSpace(r.URL.Query().Get("OrderTrackingId"))
	}
	if notification.MerchantReference == "" {
		notification.MerchantReference = strings.TrimSpace(r.URL.Query().Get("OrderMerchantReference"))
	}
	if notification.NotificationType == "" {
		notification.NotificationType = strings.TrimSpace(r.URL.Query().Get("OrderNotificationType"))
	}
	if notification.NotificationType == "" {
		notification.NotificationType = defaultNotificationType
	}
	return notification
}

func logContext(ctx context.Context, logg *logger.Logger, notification ipnNotification) context.Context {
	if logg == nil {
		return ctx
	}
	ctx = logg.WithTrackingID(ctx, notification.TrackingID)
	return logg.WithReference(ctx, notification.MerchantReference)
}

func writeIPN(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, envelope ipnEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(envelope); err != nil && logg != nil {
		logg.Error(ctx, "failed to encode ipn envelope", err)
	}
}
