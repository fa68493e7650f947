package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/bytes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/imagegen-gateway/internal/auth"
	"github.com/jmehdipour/imagegen-gateway/internal/billing"
	"github.com/jmehdipour/imagegen-gateway/internal/config"
	"github.com/jmehdipour/imagegen-gateway/internal/db"
	httpSrv "github.com/jmehdipour/imagegen-gateway/internal/http"
	"github.com/jmehdipour/imagegen-gateway/internal/kafka"
	"github.com/jmehdipour/imagegen-gateway/internal/logger"
	"github.com/jmehdipour/imagegen-gateway/internal/metrics"
	"github.com/jmehdipour/imagegen-gateway/internal/ratelimit"
	"github.com/jmehdipour/imagegen-gateway/internal/relay"
	"github.com/jmehdipour/imagegen-gateway/internal/repository"
	"github.com/jmehdipour/imagegen-gateway/internal/service/activity"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Log

		metrics.MustRegister(prometheus.DefaultRegisterer)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// MySQL backs billing, profiles and subscription reads. Without it the
		// relay still runs and the billing webhook answers 500.
		var mysqlDB *sqlx.DB
		if cfg.MySQL.DSN != "" {
			mysqlDB, err = db.NewMySQLConnection(cfg.MySQL)
			if err != nil {
				return fmt.Errorf("mysql connect: %w", err)
			}
			defer mysqlDB.Close()
		}

		limiter, err := newLimiter(ctx, cfg)
		if err != nil {
			return err
		}

		verifier := auth.NewHTTPVerifier(cfg.Auth.BaseURL, cfg.Auth.PublicKey, cfg.Auth.Timeout)
		client := relay.NewClient(relay.ClientConfig{
			Endpoint:         cfg.Relay.URL,
			Secret:           cfg.Relay.Secret,
			SecretHeader:     cfg.Relay.SecretHeader,
			Timeout:          cfg.Relay.Timeout,
			MaxResponseBytes: cfg.Relay.MaxResponseBytes,
			FailThreshold:    cfg.Relay.Breaker.FailThreshold,
			OpenFor:          cfg.Relay.Breaker.OpenFor,
		})

		deps := httpSrv.Deps{
			Upstream:       client,
			Verifier:       verifier,
			Limiter:        limiter,
			BillingMissing: cfg.MissingBillingSettings(),
			BreakerState:   client.BreakerState,
		}

		var subs relay.SubscriptionReader
		if mysqlDB != nil {
			profilesRepo := repository.NewProfilesRepository(mysqlDB)
			subsRepo := repository.NewSubscriptionsRepository(mysqlDB)
			subs = subsRepo
			deps.Profiles = profilesRepo
			deps.Subscriptions = subsRepo

			if len(deps.BillingMissing) == 0 {
				svc, err := newBillingService(cfg, subsRepo, profilesRepo)
				if err != nil {
					return err
				}
				deps.Billing = svc
			}
		}

		deps.Guard = relay.NewGuard(relay.GuardConfig{
			MaxBodyBytes:        cfg.Relay.MaxBodyBytes,
			Missing:             cfg.MissingRelaySettings(),
			RequireSubscription: cfg.Relay.RequireSubscription,
		}, limiter, verifier, subs)

		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			deps.Activity = repository.NewActivityRepository(chDB)
		}

		if len(cfg.Kafka.Brokers) > 0 {
			producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.ActivityTopic})
			defer func() { _ = producer.Close() }()
			deps.Recorder = activity.NewRecorder(producer)
		}

		if missing := cfg.MissingRelaySettings(); len(missing) > 0 {
			log.Error("relay is not configured, uploads will be rejected", zap.Strings("missing", missing))
		}
		log.Info("relay limits",
			zap.String("max_body", bytes.Format(cfg.Relay.MaxBodyBytes)),
			zap.String("max_response", bytes.Format(cfg.Relay.MaxResponseBytes)),
			zap.String("rate_limit_backend", cfg.RateLimit.Backend),
			zap.Int("rate_limit_max", cfg.RateLimit.MaxRequests),
			zap.Duration("rate_limit_window", cfg.RateLimit.Window),
			zap.Bool("require_subscription", cfg.Relay.RequireSubscription))

		server := httpSrv.NewServer(deps)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		select {
		case <-ctx.Done():
			log.Info("signal received, shutting down")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)

		return nil
	},
}

func newLimiter(ctx context.Context, cfg config.Config) (ratelimit.Limiter, error) {
	rlCfg := ratelimit.Config{Window: cfg.RateLimit.Window, MaxRequests: cfg.RateLimit.MaxRequests}

	switch cfg.RateLimit.Backend {
	case "", "memory":
		lim := ratelimit.NewMemoryLimiter(rlCfg)
		lim.StartSweeper(ctx, cfg.RateLimit.SweepInterval)
		return lim, nil
	case "redis":
		rdb, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis connect: %w", err)
		}
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
		return ratelimit.NewRedisLimiter(rdb, rlCfg, cfg.RateLimit.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown rate_limit.backend %q", cfg.RateLimit.Backend)
	}
}

func newBillingService(cfg config.Config, subs billing.SubscriptionStore, users billing.UserDirectory) (*billing.Service, error) {
	policy, err := billing.ParseAckPolicy(cfg.Billing.AckPolicy)
	if err != nil {
		return nil, err
	}

	var fetcher billing.PeriodFetcher
	if cfg.Billing.StripeAPIKey != "" {
		fetcher = billing.NewStripeFetcher(cfg.Billing.StripeAPIKey)
	} else {
		logger.Log.Warn("billing.stripe_api_key not set, checkout will not record billing periods")
	}

	return billing.NewService(
		billing.NewStripeVerifier(cfg.Billing.WebhookSecret, cfg.Billing.SignatureTolerance),
		billing.NewReconciler(subs, users, fetcher),
		policy,
	), nil
}
