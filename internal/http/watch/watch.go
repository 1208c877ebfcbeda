// Package watch serves the app shell over a WebSocket. Each connection owns
// a session provider, a set of live feeds and a navigation controller; the
// client sends commands and receives the full rendered state whenever any of
// them changes.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/live"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/internal/viewstate"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 64 << 10
)

// ProfileStore loads and completes user profiles.
type ProfileStore interface {
	Profile(ctx context.Context, uid string) (*records.Profile, error)
	CompleteOnboarding(ctx context.Context, uid string, form records.OnboardingForm) (*records.Profile, error)
}

// Observer counts open connections and feed subscriptions.
type Observer interface {
	live.Observer
	WatchConnected()
	WatchDisconnected()
}

// Config wires a Handler. Auth, Store and Profiles are required.
type Config struct {
	Auth           *session.Authenticator
	Store          docstore.Store
	Profiles       ProfileStore
	Features       viewstate.Features
	Feeds          []live.Feed
	AllowedOrigins []string
	Observer       Observer
	Logger         *logging.Logger
}

// Handler upgrades GET /api/app/watch.
type Handler struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.Auth == nil || cfg.Store == nil || cfg.Profiles == nil {
		panic("watch: authenticator, store and profiles are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	h := &Handler{cfg: cfg, logger: cfg.Logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

// FeedsFor lists the live collections a shell with the given features
// needs. Reports and doctors are always on.
func FeedsFor(f viewstate.Features) []live.Feed {
	feeds := []live.Feed{live.FeedReports, live.FeedDoctors}
	if f.Appointments {
		feeds = append(feeds, live.FeedAppointments)
	}
	if f.Chatbot {
		feeds = append(feeds, live.FeedChat)
	}
	if f.Diagnostic {
		feeds = append(feeds, live.FeedDiagnostics)
	}
	return feeds
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[strings.TrimRight(o, "/")] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 || set["*"] {
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}

// ServeHTTP upgrades the connection and runs the session until the client
// goes away. A session token may be passed as access_token or a Bearer
// header; without one the shell starts signed out.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := middleware.BearerToken(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("watch upgrade failed", "error", err)
		return
	}
	s := h.newSession(r.Context(), conn)
	if h.cfg.Observer != nil {
		h.cfg.Observer.WatchConnected()
		defer h.cfg.Observer.WatchDisconnected()
	}
	s.run(token)
}

func (h *Handler) newSession(parent context.Context, conn *websocket.Conn) *connSession {
	ctx, cancel := context.WithCancel(parent)
	logger := h.logger.With("conn_id", uuid.NewString())
	var observer live.Observer
	if h.cfg.Observer != nil {
		observer = h.cfg.Observer
	}
	return &connSession{
		ctx:      ctx,
		cancel:   cancel,
		conn:     conn,
		provider: session.NewProvider(h.cfg.Auth),
		view:     viewstate.New(h.cfg.Features),
		feeds:    live.New(ctx, h.cfg.Store, live.Config{Feeds: h.cfg.Feeds, Logger: logger, Observer: observer}),
		profiles: h.cfg.Profiles,
		logger:   logger,
		dirty:    make(chan struct{}, 1),
		replies:  make(chan Frame, 8),
	}
}

// ErrUnknownCommand is reported for command types the shell does not know.
var ErrUnknownCommand = errors.New("watch: unknown command")

// Command is one client message.
type Command struct {
	Type string `json:"type"`
	// navigate
	Screen viewstate.Screen `json:"screen,omitempty"`
	// tab
	Tab viewstate.Tab `json:"tab,omitempty"`
	// onboarding
	Form *records.OnboardingForm `json:"form,omitempty"`
	// pending_result; null clears it
	Analysis *records.Analysis `json:"analysis,omitempty"`
	// google / login / signup
	IDToken  string `json:"id_token,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
	// Ref is echoed on the error frame a command produces.
	Ref string `json:"ref,omitempty"`
}

func decodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, err
	}
	cmd.Type = strings.TrimSpace(strings.ToLower(cmd.Type))
	return cmd, nil
}
