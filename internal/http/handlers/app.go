package handlers

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mediguard/mediguard-platform/internal/medapi"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// ServiceAPI is the outbound AI/calendar adapter (medapi.Client).
type ServiceAPI interface {
	Analyze(ctx context.Context, names []string) (*records.Analysis, error)
	Chat(ctx context.Context, req medapi.ChatRequest) (*medapi.ChatReply, error)
	Diagnose(ctx context.Context, req medapi.DiagnoseRequest) (*medapi.Diagnosis, error)
	CalendarAuthURL(ctx context.Context, uid string) (string, error)
	ExchangeCalendarCode(ctx context.Context, code, state, uid string) (*medapi.Credentials, error)
	SyncAppointment(ctx context.Context, appt records.Appointment, creds *medapi.Credentials) (*medapi.SyncResult, error)
}

// SyncEnqueuer schedules background calendar sync for new bookings.
type SyncEnqueuer interface {
	EnqueueSync(ctx context.Context, appointmentID, uid string) error
}

// ReviewNotifier is told when an admin confirms or cancels a booking.
type ReviewNotifier interface {
	AppointmentReviewed(ctx context.Context, appt records.Appointment) error
}

// AppHandler serves the signed-in app surface under /api/app. Every route
// runs behind middleware.RequireUser; admin routes also behind RequireRole.
type AppHandler struct {
	repo     *records.Repository
	api      ServiceAPI
	sync     SyncEnqueuer
	notifier ReviewNotifier
	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// AppHandlerConfig wires the app surface. API, Sync and Notifier are
// optional.
type AppHandlerConfig struct {
	Repo     *records.Repository
	API      ServiceAPI
	Sync     SyncEnqueuer
	Notifier ReviewNotifier
	Gatherer prometheus.Gatherer
	Logger   *logging.Logger
}

func NewAppHandler(cfg AppHandlerConfig) *AppHandler {
	if cfg.Repo == nil {
		panic("handlers: records repository required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	return &AppHandler{
		repo:     cfg.Repo,
		api:      cfg.API,
		sync:     cfg.Sync,
		notifier: cfg.Notifier,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
	}
}
