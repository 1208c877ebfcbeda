package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mediguard/mediguard-platform/internal/http/handlers"
	httpmiddleware "github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger
	// Identity resolves session tokens for /api/app.
	Identity    httpmiddleware.IdentityResolver
	AuthHandler *handlers.AuthHandler
	AppHandler  *handlers.AppHandler
	AIHandler   *handlers.AIHandler
	// Watch serves the app-shell WebSocket; optional.
	Watch              http.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Per-client limits for the AI endpoints and sign-in routes. Nil
	// disables limiting.
	AILimiter   *httpmiddleware.RateLimiter
	AuthLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/", handlers.Health)
		public.Get("/health", handlers.Health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.AuthHandler != nil {
			public.Route("/api/auth", func(auth chi.Router) {
				auth.Use(limit(cfg.AuthLimiter))
				auth.Post("/google", cfg.AuthHandler.Google)
				auth.Post("/signup", cfg.AuthHandler.SignUp)
				auth.Post("/login", cfg.AuthHandler.Login)
			})
		}
		if cfg.Watch != nil {
			public.Handle("/api/app/watch", cfg.Watch)
		}
	})

	// AI and calendar API. Analysis is anonymous; everything touching a
	// user's data acts for the session user only.
	if cfg.AIHandler != nil {
		ai := cfg.AIHandler
		r.Group(func(api chi.Router) {
			api.Use(limit(cfg.AILimiter))
			api.Post("/api/analyze", ai.Analyze)
		})
		r.Group(func(api chi.Router) {
			api.Use(httpmiddleware.RequireUser(cfg.Identity))
			api.Get("/api/diagnostics/audio/*", ai.Recording)
			api.Group(func(limited chi.Router) {
				limited.Use(limit(cfg.AILimiter))
				limited.Post("/api/chat", ai.Chat)
				limited.Post("/api/diagnose", ai.Diagnose)
				limited.Get("/api/calendar/auth-url", ai.CalendarAuthURL)
				limited.Post("/api/calendar/token", ai.CalendarToken)
				limited.Post("/appointments", ai.SyncAppointment)
			})
		})
	}

	// Signed-in app surface
	if cfg.AppHandler != nil && cfg.Identity != nil {
		app := cfg.AppHandler
		r.Route("/api/app", func(user chi.Router) {
			user.Use(httpmiddleware.RequireUser(cfg.Identity))

			user.Get("/me", app.Me)
			user.Post("/profile/onboarding", app.CompleteOnboarding)

			user.With(limit(cfg.AILimiter)).Post("/analyze", app.AnalyzeMedications)
			user.Get("/reports", app.Reports)
			user.With(limit(cfg.AILimiter)).Post("/reports", app.SaveReport)
			user.Get("/reports/summary", app.RiskSummary)

			user.Get("/doctors", app.Doctors)

			user.Get("/appointments", app.Appointments)
			user.Get("/appointments/defaults", app.BookingDefaults)
			user.Post("/appointments", app.BookAppointment)
			user.Delete("/appointments/{appointmentID}", app.CancelAppointment)
			user.Post("/appointments/{appointmentID}/sync", app.SyncAppointment)

			user.Get("/chat", app.ChatHistory)
			user.With(limit(cfg.AILimiter)).Post("/chat", app.SendChat)
			user.Delete("/chat", app.ClearChat)

			user.Get("/diagnostics", app.Diagnostics)
			user.With(limit(cfg.AILimiter)).Post("/diagnose", app.Diagnose)

			user.Get("/calendar/auth-url", app.CalendarAuthURL)
			user.Post("/calendar/connect", app.ConnectCalendar)

			user.Group(func(admin chi.Router) {
				admin.Use(httpmiddleware.RequireRole(session.RoleAdmin))
				admin.Post("/doctors", app.AddDoctor)
				admin.Delete("/doctors/{doctorID}", app.DeleteDoctor)
				admin.Get("/admin/appointments", app.PendingAppointments)
				admin.Post("/admin/appointments/{appointmentID}/review", app.ReviewAppointment)
				admin.Get("/admin/stats", app.AdminStats)
			})
		})
	}

	return r
}

func limit(rl *httpmiddleware.RateLimiter) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return httpmiddleware.RateLimitWith(rl)
}
