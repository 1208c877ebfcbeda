package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediguard/mediguard-platform/cmd/mainconfig"
	"github.com/mediguard/mediguard-platform/internal/api/router"
	"github.com/mediguard/mediguard-platform/internal/app/bootstrap"
	"github.com/mediguard/mediguard-platform/internal/assistant"
	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/diagnostics"
	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/http/handlers"
	httpmiddleware "github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/http/watch"
	"github.com/mediguard/mediguard-platform/internal/interactions"
	"github.com/mediguard/mediguard-platform/internal/medapi"
	"github.com/mediguard/mediguard-platform/internal/notify"
	"github.com/mediguard/mediguard-platform/internal/observability/metrics"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/internal/viewstate"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting mediguard API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"docstore", cfg.DocStoreBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, metricsHandler, appMetrics := setupMetrics()

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("aws config unavailable; SQS, S3 and SES are disabled", "error", err)
	} else {
		awsCfg = &loaded
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	docs, err := bootstrap.BuildDocStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to open document store", "error", err)
		os.Exit(1)
	}
	defer docs.Close()
	store := docstore.Instrument(docs.Store, appMetrics)
	repo := records.NewRepository(store, logger)

	auth, err := setupAuth(cfg, store, logger)
	if err != nil {
		logger.Error("failed to configure sessions", "error", err)
		os.Exit(1)
	}

	model, closeModel, err := bootstrap.BuildModel(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to configure gemini", "error", err)
		os.Exit(1)
	}
	defer closeModel()

	creds := bootstrap.BuildCredentialStore(redisClient)
	oauth := bootstrap.BuildCalendarOAuth(cfg, creds, logger)
	events := calendar.NewEvents(oauth, cfg.CalendarTimeZone, logger)

	var queueAWS aws.Config
	if awsCfg != nil {
		queueAWS = *awsCfg
	}
	queue, memoryQueue := bootstrap.BuildCalendarQueue(cfg, queueAWS, logger)
	publisher := calendar.NewPublisher(queue)

	emailSender, provider := bootstrap.BuildEmailSender(cfg, awsCfg, logger)
	logger.Info("email provider selected", "provider", provider)
	notifier := notify.NewService(emailSender, logger)

	worker := setupInlineWorker(ctx, cfg, logger, memoryQueue, repo, creds, events, notifier, appMetrics)

	var recordings *diagnostics.Store
	var diagOpts []diagnostics.Option
	if awsCfg != nil {
		recordings = diagnostics.NewStore(mainconfig.NewS3Client(*awsCfg, cfg), cfg.DiagnosticBucket, logger)
		diagOpts = append(diagOpts, diagnostics.WithSpeaker(diagnostics.NewPollySpeaker(polly.NewFromConfig(*awsCfg), cfg.TTSVoiceID)))
	} else {
		recordings = diagnostics.NewStore(nil, "", logger)
	}

	aiHandler := handlers.NewAIHandler(handlers.AIHandlerConfig{
		Analyzer:    interactions.NewAnalyzer(model, logger),
		Chat:        assistant.NewService(repo, model, logger),
		Diagnoser:   diagnostics.NewService(model, repo, recordings, handlers.AudioURL(cfg.PublicBaseURL), logger, diagOpts...),
		Recordings:  recordings,
		Calendar:    oauth,
		Credentials: creds,
		Events:      events,
		Logger:      logger,
	})

	api := medapi.New(cfg.APIBaseURL, cfg.APITimeout, logger,
		medapi.WithObserver(appMetrics),
		medapi.WithAuthToken(httpmiddleware.TokenFromContext),
	)
	appHandler := handlers.NewAppHandler(handlers.AppHandlerConfig{
		Repo:     repo,
		API:      api,
		Sync:     publisher,
		Notifier: notifier,
		Gatherer: registry,
		Logger:   logger,
	})

	features := viewstate.Features{
		Diagnostic:   cfg.FeatureDiagnostic,
		Chatbot:      cfg.FeatureChatbot,
		Appointments: cfg.FeatureAppointments,
	}
	watchHandler := watch.NewHandler(watch.Config{
		Auth:           auth,
		Store:          store,
		Profiles:       repo,
		Features:       features,
		Feeds:          watch.FeedsFor(features),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Observer:       appMetrics,
		Logger:         logger,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Identity:           auth,
		AuthHandler:        handlers.NewAuthHandler(auth, repo, logger),
		AppHandler:         appHandler,
		AIHandler:          aiHandler,
		Watch:              watchHandler,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AILimiter:          httpmiddleware.NewRateLimiter(2, 10),
		AuthLimiter:        httpmiddleware.NewRateLimiter(1, 5),
	})

	// Watch connections are hijacked and manage their own deadlines, so the
	// write timeout only bounds the AI proxy calls.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.APITimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	waitForInlineWorker(worker, logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (*prometheus.Registry, http.Handler, *metrics.AppMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewAppMetrics(reg)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), appMetrics
}

// setupAuth builds the authenticator. Development runs without a configured
// secret get a per-process one, which invalidates sessions on restart.
func setupAuth(cfg *appconfig.Config, store docstore.Store, logger *logging.Logger) (*session.Authenticator, error) {
	secret := strings.TrimSpace(cfg.SessionJWTSecret)
	if secret == "" {
		if cfg.Env != "development" {
			return nil, errors.New("SESSION_JWT_SECRET is required outside development")
		}
		secret = uuid.NewString()
		logger.Warn("SESSION_JWT_SECRET not set; using an ephemeral secret")
	}
	issuer, err := session.NewIssuer(secret, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	authCfg := session.AuthenticatorConfig{
		Issuer:      issuer,
		Accounts:    session.NewAccounts(store),
		AdminEmails: cfg.AdminEmails,
		Logger:      logger,
	}
	if cfg.GoogleClientID != "" {
		authCfg.Verifier = session.NewGoogleVerifier(cfg.GoogleClientID)
	} else {
		logger.Warn("GOOGLE_CLIENT_ID not set; Google sign-in is disabled")
	}
	return session.NewAuthenticator(authCfg), nil
}

// setupInlineWorker runs the calendar sync consumer inside the API when jobs
// travel over the in-process queue. It returns nil otherwise.
func setupInlineWorker(
	ctx context.Context,
	cfg *appconfig.Config,
	logger *logging.Logger,
	memoryQueue *calendar.MemoryQueue,
	appointments calendar.AppointmentSource,
	creds calendar.CredentialStore,
	events calendar.EventCreator,
	notifier calendar.BookingNotifier,
	observer calendar.SyncObserver,
) *calendar.Worker {
	if memoryQueue == nil {
		return nil
	}
	opts := []calendar.WorkerOption{calendar.WithWorkerCount(cfg.WorkerCount)}
	if notifier != nil {
		opts = append(opts, calendar.WithNotifier(notifier))
	}
	if observer != nil {
		opts = append(opts, calendar.WithSyncObserver(observer))
	}
	worker := calendar.NewWorker(memoryQueue, appointments, creds, events, logger, opts...)
	worker.Start(ctx)
	logger.Info("inline calendar worker started", "workers", cfg.WorkerCount)
	return worker
}

func waitForInlineWorker(worker *calendar.Worker, logger *logging.Logger) {
	if worker == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline calendar worker stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("timed out waiting for inline calendar worker")
	}
}
