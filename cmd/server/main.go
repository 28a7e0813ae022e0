// Command server wires the request guard stack: configuration, counter
// store, identity resolver, security primitives, audit, and the HTTP router.
// Business services live behind the guarded routes and are out of scope.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"apiguard/pkg/platform/audit"
	auditmemory "apiguard/pkg/platform/audit/store/memory"
	auditpostgres "apiguard/pkg/platform/audit/store/postgres"
	"apiguard/pkg/platform/audit/publisher"

	"apiguard/internal/guard"
	"apiguard/internal/identity"
	"apiguard/internal/platform/config"
	"apiguard/internal/platform/httpserver"
	"apiguard/internal/platform/logger"
	"apiguard/internal/platform/metrics"
	platformredis "apiguard/internal/platform/redis"
	"apiguard/internal/policy"
	rlmetrics "apiguard/internal/ratelimit/metrics"
	"apiguard/internal/ratelimit/ports"
	"apiguard/internal/ratelimit/service"
	"apiguard/internal/ratelimit/store/bucket"
	"apiguard/internal/security/cron"
	"apiguard/internal/security/origin"
	"apiguard/internal/security/webhook"
	httptransport "apiguard/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Counter store: redis when configured, otherwise the in-process store.
	// Production config guarantees a redis URL, so fail-open never happens
	// there.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var counterStore ports.CounterStore
	var memoryStore *bucket.InMemoryCounterStore
	health := map[string]httptransport.HealthChecker{}
	if redisClient != nil {
		counterStore = bucket.NewRedisCounterStore(redisClient.Client)
		health["redis"] = redisClient.Health
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, using in-process rate limit counters")
		memoryStore = bucket.NewInMemoryCounterStore()
		counterStore = memoryStore
	}

	limiterOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(rlmetrics.New()),
	}
	if !cfg.IsProduction() && redisClient == nil {
		limiterOpts = append(limiterOpts, service.WithFailOpen())
	}
	limiter, err := service.New(counterStore, limiterOpts...)
	if err != nil {
		log.Error("limiter setup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Audit: postgres outbox when a database is configured, memory otherwise.
	var auditStore audit.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Error("database open failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("database unreachable", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()
		health["database"] = db.PingContext
		auditStore = auditpostgres.New(db)
	} else {
		auditStore = auditmemory.NewInMemoryStore()
	}
	auditPub := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log))
	defer auditPub.Close()

	registry := policy.NewRegistry()
	httptransport.RegisterPolicies(registry)

	guardOpts := []guard.Option{
		guard.WithIdentityResolver(identity.NewJWTResolver(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)),
		guard.WithOriginValidator(origin.NewValidator(cfg.AllowedOrigins)),
		guard.WithCronAuthenticator(cron.New(cfg.CronSecret, cfg.CronSigningSecret,
			cron.WithSecretHash(cfg.CronSecretHash))),
		guard.WithDevKey(cfg.DevKey),
		guard.WithDevKeyHash(cfg.DevKeyHash),
		guard.WithLogger(log),
		guard.WithMetrics(metrics.New()),
		guard.WithAuditPublisher(auditPub),
	}
	if cfg.IsProduction() {
		guardOpts = append(guardOpts, guard.WithProduction())
	}
	g := guard.New(registry, limiter, guardOpts...)

	router := httptransport.NewRouter(httptransport.Deps{
		Guard:           g,
		Logger:          log,
		WebhookVerifier: webhook.NewHMACVerifier(cfg.WebhookSecret, "X-Provider-Signature"),
		Health:          health,
	})
	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting apiguard", slog.String("addr", cfg.Addr), slog.String("env", string(cfg.Env)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if memoryStore != nil {
		group.Go(func() error {
			memoryStore.StartSweeper(ctx, time.Minute)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
