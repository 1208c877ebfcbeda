package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediguard/mediguard-platform/cmd/mainconfig"
	"github.com/mediguard/mediguard-platform/internal/app/bootstrap"
	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/http/handlers"
	"github.com/mediguard/mediguard-platform/internal/notify"
	"github.com/mediguard/mediguard-platform/internal/observability/metrics"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue || cfg.CalendarSyncQueueURL == "" {
		logger.Error("calendar worker needs CALENDAR_SYNC_QUEUE_URL and USE_MEMORY_QUEUE=false")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Warn("redis unavailable; calendar credentials from the API process are not visible")
	} else {
		defer redisClient.Close()
	}

	docs, err := bootstrap.BuildDocStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer docs.Close()
	if docs.Backend == bootstrap.BackendMemory {
		logger.Warn("memory document store does not share appointments with the API process")
	}

	reg := prometheus.NewRegistry()
	appMetrics := metrics.NewAppMetrics(reg)
	repo := records.NewRepository(docstore.Instrument(docs.Store, appMetrics), logger)

	creds := bootstrap.BuildCredentialStore(redisClient)
	oauth := bootstrap.BuildCalendarOAuth(cfg, creds, logger)
	events := calendar.NewEvents(oauth, cfg.CalendarTimeZone, logger)

	queue, _ := bootstrap.BuildCalendarQueue(cfg, awsConfig, logger)
	emailSender, provider := bootstrap.BuildEmailSender(cfg, &awsConfig, logger)
	logger.Info("email provider selected", "provider", provider)

	worker := calendar.NewWorker(
		queue,
		repo,
		creds,
		events,
		logger,
		calendar.WithWorkerCount(cfg.WorkerCount),
		calendar.WithReceiveWaitSeconds(20),
		calendar.WithNotifier(notify.NewService(emailSender, logger)),
		calendar.WithSyncObserver(appMetrics),
	)
	worker.Start(ctx)
	logger.Info("calendar worker started", "workers", cfg.WorkerCount)

	r := chi.NewRouter()
	r.Get("/health", handlers.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down calendar worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = srv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("calendar worker stopped")
	case <-doneCtx.Done():
		logger.Error("calendar worker shutdown timed out", "error", doneCtx.Err())
	}
}
