package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiwanukadev/zawadi-backend/api/controllers"
	webhookcontrollers "github.com/kiwanukadev/zawadi-backend/api/controllers/webhooks"
	"github.com/kiwanukadev/zawadi-backend/api/middleware"
	checkoutsvc "github.com/kiwanukadev/zawadi-backend/internal/checkout"
	"github.com/kiwanukadev/zawadi-backend/internal/notifications"
	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
	"github.com/kiwanukadev/zawadi-backend/pkg/redis"
)

// PaymentProcessor is the reconciliation surface the gateway-facing
// routes need.
type PaymentProcessor interface {
	ProcessCallback(ctx context.Context, trackingID, merchantReference string) (*payments.SyncResult, error)
	ProcessIPN(ctx context.Context, trackingID, merchantReference string) (*payments.SyncResult, error)
}

// IPNRegistrar registers the webhook URL with the provider.
type IPNRegistrar interface {
	RegisterIPN(ctx context.Context, ipnURL, notificationType string) (*pesapal.IPNRegistration, error)
}

// DeliveryGuard deduplicates webhook deliveries.
type DeliveryGuard interface {
	CheckAndMark(ctx context.Context, deliveryID string) (bool, error)
	Delete(ctx context.Context, deliveryID string) error
}

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         redis.Pinger
	Checkout      checkoutsvc.Service
	Payments      PaymentProcessor
	Notifications notifications.Service
	Pesapal       IPNRegistrar
	IPNGuard      DeliveryGuard
}

// NewRouter assembles the API routes.
func NewRouter(p RouterParams) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})

	// Gateway-facing surfaces. Both verbs: Pesapal environments differ.
	r.Get("/payments/callback", controllers.PaymentCallback(p.Payments, cfg.App, logg))
	r.Post("/payments/callback", controllers.PaymentCallback(p.Payments, cfg.App, logg))
	r.Get("/webhook/ipn", webhookcontrollers.PesapalIPN(p.Payments, p.IPNGuard, logg))
	r.Post("/webhook/ipn", webhookcontrollers.PesapalIPN(p.Payments, p.IPNGuard, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", controllers.CreateOrder(p.Checkout, logg))
		r.Get("/orders/{reference}/payment", controllers.OrderPayment(p.Checkout, logg))
		r.Post("/donations", controllers.CreateDonation(p.Checkout, logg))
		r.Get("/donations/{reference}/payment", controllers.DonationPayment(p.Checkout, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(p.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.AdminToken(cfg.Service.AdminToken, logg))
		r.Post("/pesapal/register-ipn", controllers.AdminRegisterIPN(p.Pesapal, logg))
		r.Patch("/orders/{reference}/status", controllers.AdminUpdateOrderStatus(p.Checkout, logg))
	})

	return r
}
