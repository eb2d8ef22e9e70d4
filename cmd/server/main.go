// Command server runs the check-in, escalation, and unlock engine: the
// HTTP API, the background escalation scheduler, and the audit pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"custodia/internal/admin"
	checkinhandler "custodia/internal/checkin/handler"
	checkinservice "custodia/internal/checkin/service"
	checkinstore "custodia/internal/checkin/store"
	"custodia/internal/directory"
	escalationmetrics "custodia/internal/escalation/metrics"
	escalationservice "custodia/internal/escalation/service"
	httpapi "custodia/internal/http"
	"custodia/internal/notify"
	"custodia/internal/notify/dispatchlog"
	"custodia/internal/payload"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	"custodia/internal/platform/postgres"
	platformredis "custodia/internal/platform/redis"
	unlockhandler "custodia/internal/unlock/handler"
	unlockmetrics "custodia/internal/unlock/metrics"
	unlockservice "custodia/internal/unlock/service"
	unlockstore "custodia/internal/unlock/store"
	verificationhandler "custodia/internal/verification/handler"
	verificationservice "custodia/internal/verification/service"
	verificationstore "custodia/internal/verification/store"
	"custodia/pkg/platform/audit"
)

const notifyRetryBudget = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(slog.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *platformredis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = platformredis.New(cfg.Redis)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
	}

	// Audit pipeline: publisher -> worker -> postgres store (+ Kafka when
	// brokers are configured).
	auditor := audit.NewPublisher(1024, log)
	auditStore := audit.NewPostgresStore(db)
	var sinks []audit.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("failed to create kafka audit sink", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	auditWorker := audit.NewWorker(auditStore, auditor.Inbox(), log, sinks...)
	go func() {
		if err := auditWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("audit worker stopped", "error", err)
		}
	}()

	principals := directory.NewPostgres(db)
	checkins := checkinstore.NewPostgres(db)
	requests := verificationstore.NewPostgresRequestStore(db)
	credentials := verificationstore.NewPostgresCredentialStore(db)
	releases := unlockstore.NewPostgresReleaseStore(db)
	dispatch := dispatchlog.NewPostgres(db)

	payloads, err := payload.NewMinIOStore(cfg.Payload)
	if err != nil {
		log.Error("failed to create payload store", "error", err)
		os.Exit(1)
	}

	notifier := notify.NewRetrying(notify.NewSMTP(cfg.SMTP), notifyRetryBudget)

	tokens := verificationservice.NewTokenCodec(cfg.Report.SigningKey)
	verifier := verificationservice.New(
		requests, credentials, checkins, principals, principals,
		notifier, dispatch, tokens, cfg.Report.BaseURL, auditor, log,
	)
	tracker := checkinservice.New(checkins, principals, auditor, log,
		checkinservice.WithCanceller(verifier))
	verifier.SetCheckinRecorder(tracker)

	gate := unlockservice.New(
		principals, principals, requests, credentials, releases, payloads,
		notifier, dispatch, auditor, log, cfg.Scheduler.FailsafeAfter,
		unlockservice.WithDB(db),
		unlockservice.WithMetrics(unlockmetrics.New()),
	)

	var cache *dispatchlog.LastSentCache
	if redisClient != nil {
		cache = dispatchlog.NewLastSentCache(redisClient.Client)
	}
	scheduler := escalationservice.New(
		principals, principals, checkins, verifier, gate,
		notifier, dispatch, auditor, log,
		cfg.Scheduler.Interval, cfg.Scheduler.DedupWindow,
		escalationservice.WithCache(cache),
		escalationservice.WithMetrics(escalationmetrics.New()),
	)
	go scheduler.Run(ctx)

	health := map[string]httpapi.HealthChecker{
		"postgres": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		health["redis"] = redisClient.Health
	}

	router := httpapi.NewRouter(log, health,
		checkinhandler.New(tracker, admin.NewResetter(tracker, verifier), log),
		verificationhandler.New(verifier, log),
		unlockhandler.New(gate, log),
	)
	srv := httpserver.New(cfg.HTTP.Addr, router)

	go func() {
		log.Info("server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
