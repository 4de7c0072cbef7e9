// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"coursepay/internal/config"
	"coursepay/internal/domain/ports/adapter"
	payAdapters "coursepay/internal/infra/adapters/payment"
	"coursepay/internal/infra/alert"
	"coursepay/internal/infra/api"
	"coursepay/internal/infra/api/apiv1"
	pg "coursepay/internal/infra/db/postgres"
	httpserver "coursepay/internal/infra/http"
	"coursepay/internal/infra/logging"
	"coursepay/internal/infra/metrics"
	verify "coursepay/internal/infra/payment"
	red "coursepay/internal/infra/redis"
	"coursepay/internal/infra/sched"
	"coursepay/internal/infra/scheduler"
	"coursepay/internal/infra/worker"
	"coursepay/internal/usecase"
)

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, no-op checkout gateways)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled: checkout sessions are not sent to real gateways")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	go reportPoolStats(ctx, pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	userRepo := pg.NewPostgresUserRepo(pool)
	paymentRepo := pg.NewPaymentRepo(pool)
	courseRepo := pg.NewCourseRepoCacheDecorator(pg.NewCourseRepo(pool), redisClient, cfg.Redis.TTL)

	// ---- Alerts ----
	sinks := []adapter.Alerter{alert.NewQueue(red.NewListQueue(redisClient, cfg.Alert.RedisList))}
	if cfg.Alert.TelegramToken != "" && len(cfg.Alert.AdminChatIDs) > 0 {
		tg, err := alert.NewTelegram(cfg.Alert.TelegramToken, cfg.Alert.AdminChatIDs, cfg.Alert.SendTimeout)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram alerts disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	alerts := alert.NewFanout(logger, sinks...)

	// ---- Use cases ----
	registry := verify.NewRegistryFromConfig(verify.NewVerifier(logger), cfg.Payment)
	entUC := usecase.NewEntitlementUseCase(userRepo, usecase.EntitlementOptions{
		AccessPeriod:    cfg.Payment.AccessPeriod,
		ConflictRetries: cfg.Payment.ConflictRetries,
		StorageTimeout:  cfg.Payment.StorageTimeout,
	}, logger)
	ingestUC := usecase.NewIngestUseCase(registry, paymentRepo, userRepo, courseRepo, entUC, alerts, cfg.Payment.StorageTimeout, logger)

	sessionGateways, err := buildSessionGateways(cfg.Payment, cfg.Runtime.Dev)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateways")
	}
	checkoutUC := usecase.NewCheckoutUseCase(userRepo, courseRepo, sessionGateways, usecase.CheckoutOptions{
		Currency:          cfg.Payment.Currency,
		SubscriptionPrice: cfg.Payment.SubscriptionPrice,
		PublicBaseURL:     cfg.HTTP.PublicBaseURL,
		ReturnURL:         cfg.Payment.ReturnURL,
	}, logger)

	// ---- HTTP ----
	auth := apiv1.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	v1 := apiv1.NewServer(ingestUC, checkoutUC, entUC, auth, rateLimiter,
		apiv1.Options{WebhookRateLimit: cfg.Payment.WebhookRateLimit}, logger)
	server := httpserver.NewServer(cfg.HTTP, api.NewRouter(v1, cfg.HTTP.RequestTimeout, logger), logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			cancel()
		}
	}()

	// ---- Reconciler ----
	workers := worker.NewPool(4, logger)
	workers.Start(ctx)
	reconciler := sched.NewPaymentReconciler(ingestUC, paymentRepo, locker, workers,
		cfg.Payment.ReconcileStaleAfter, 2*cfg.Payment.ReconcileInterval, logger)
	sweeps := scheduler.NewScheduler(cfg.Payment.ReconcileInterval, cfg.Payment.ReconcileInterval, reconciler, logger)
	sweeps.Start(ctx)

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	sweeps.Stop()
	workers.Stop()
	cancel()
	logger.Info().Msg("bye")
}

// buildSessionGateways returns the outbound side of every enabled gateway. In dev
// mode sessions are created by no-op gateways with the same names and limits.
func buildSessionGateways(cfg config.PaymentConfig, dev bool) ([]adapter.PaymentGateway, error) {
	var out []adapter.PaymentGateway
	if cfg.IPaymu.Enabled {
		if dev {
			out = append(out, payAdapters.NewNoopPaymentGateway(verify.GatewayIPaymu, cfg.IPaymu.MaxReferenceLen))
		} else {
			gw, err := payAdapters.NewIPaymuGateway(cfg.IPaymu)
			if err != nil {
				return nil, err
			}
			out = append(out, gw)
		}
	}
	if cfg.Midtrans.Enabled {
		if dev {
			out = append(out, payAdapters.NewNoopPaymentGateway(verify.GatewayMidtrans, cfg.Midtrans.MaxReferenceLen))
		} else {
			gw, err := payAdapters.NewMidtransGateway(cfg.Midtrans)
			if err != nil {
				return nil, err
			}
			out = append(out, gw)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no payment gateway enabled")
	}
	return out, nil
}

func reportPoolStats(ctx context.Context, pool *pgxpool.Pool) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			metrics.ObservePool(pool.Stat())
		}
	}
}
