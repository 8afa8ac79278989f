package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/kiwanukadev/zawadi-backend/api/routes"
	"github.com/kiwanukadev/zawadi-backend/internal/checkout"
	"github.com/kiwanukadev/zawadi-backend/internal/notifications"
	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/internal/users"
	pesapalwebhook "github.com/kiwanukadev/zawadi-backend/internal/webhooks/pesapal"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/migrate"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
	"github.com/kiwanukadev/zawadi-backend/pkg/redis"
)

const ipnGuardTTL = 2 * time.Minute

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	tokens := pesapal.NewTokenCache(redisClient, cfg.Pesapal.TokenTTL)
	gateway, err := pesapal.NewClient(cfg.Pesapal, tokens)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	notificationsRepo := notifications.NewRepository(dbClient.DB())
	usersRepo := users.NewRepository(dbClient.DB())

	reconciler, err := payments.NewReconciler(gateway, paymentsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}
	machine, err := payments.NewStateMachine(paymentsRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create state machine", err)
		os.Exit(1)
	}
	dispatcher, err := payments.NewDispatcher(payments.DispatcherParams{
		Repo:     paymentsRepo,
		Users:    users.NewDirectory(usersRepo),
		Notifier: notifications.NewTxCreator(notificationsRepo),
		Emitter:  outboxService,
		Runner:   dbClient,
		Flags:    cfg.FeatureFlags,
		JWT:      cfg.JWT,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create dispatcher", err)
		os.Exit(1)
	}
	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:       paymentsRepo,
		Runner:     dbClient,
		Reconciler: reconciler,
		Machine:    machine,
		Dispatcher: dispatcher,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	orchestrator, err := payments.NewOrchestrator(payments.OrchestratorParams{
		Gateway: gateway,
		Repo:    paymentsRepo,
		Runner:  dbClient,
		Config:  cfg.Pesapal,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orchestrator", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notificationsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Repo:         checkout.NewRepository(dbClient.DB()),
		Intents:      orchestrator,
		Transactions: paymentsRepo,
		Notifier:     dispatcher,
		Password:     cfg.Password,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	ipnGuard, err := pesapalwebhook.NewIdempotencyGuard(redisClient, ipnGuardTTL, "webhook:ipn")
	if err != nil {
		logg.Error(context.Background(), "failed to create ipn guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Checkout:      checkoutService,
			Payments:      paymentsService,
			Notifications: notificationsService,
			Pesapal:       gateway,
			IPNGuard:      ipnGuard,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
