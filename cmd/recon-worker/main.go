package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kiwanukadev/zawadi-backend/internal/notifications"
	"github.com/kiwanukadev/zawadi-backend/internal/payments"
	"github.com/kiwanukadev/zawadi-backend/internal/recon"
	"github.com/kiwanukadev/zawadi-backend/internal/users"
	"github.com/kiwanukadev/zawadi-backend/pkg/config"
	"github.com/kiwanukadev/zawadi-backend/pkg/db"
	"github.com/kiwanukadev/zawadi-backend/pkg/logger"
	"github.com/kiwanukadev/zawadi-backend/pkg/metrics"
	"github.com/kiwanukadev/zawadi-backend/pkg/migrate"
	"github.com/kiwanukadev/zawadi-backend/pkg/outbox"
	"github.com/kiwanukadev/zawadi-backend/pkg/pesapal"
	"github.com/kiwanukadev/zawadi-backend/pkg/redis"
)

const lockKeyFormat = "zw:recon-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "recon-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "recon-worker"

	logg = logger.New(logger.Options{
		ServiceName: "recon-worker",
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
		Users:    users.NewDirectory(users.NewRepository(dbClient.DB())),
		Notifier: notifications.NewTxCreator(notifications.NewRepository(dbClient.DB())),
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
		Metrics:    metrics.NewReconMetrics(prometheus.DefaultRegisterer),
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	sweep, err := recon.NewSweepJob(recon.SweepJobParams{
		Logger: logg,
		Repo:   paymentsRepo,
		Poller: paymentsService,
		Window: cfg.Recon,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep job", err)
		os.Exit(1)
	}

	lock, err := recon.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Recon.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	service, err := recon.NewService(recon.ServiceParams{
		Logger:   logg,
		Registry: recon.NewRegistry(sweep),
		Lock:     lock,
		Metrics:  metrics.NewJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Recon.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create recon service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting recon worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "recon worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "recon worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
