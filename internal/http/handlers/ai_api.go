package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mediguard/mediguard-platform/internal/assistant"
	"github.com/mediguard/mediguard-platform/internal/calendar"
	"github.com/mediguard/mediguard-platform/internal/diagnostics"
	"github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const (
	maxUploadBytes = 20 << 20
	audioRoute     = "/api/diagnostics/audio/"
)

// InteractionAnalyzer backs /api/analyze.
type InteractionAnalyzer interface {
	Analyze(ctx context.Context, names []string) records.Analysis
}

// ChatResponder backs /api/chat.
type ChatResponder interface {
	Reply(ctx context.Context, req assistant.Request) (*assistant.Reply, error)
}

// Diagnoser backs /api/diagnose.
type Diagnoser interface {
	Diagnose(ctx context.Context, in diagnostics.Input) (*diagnostics.Result, error)
}

// RecordingOpener serves stored diagnostic recordings.
type RecordingOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// CalendarAuthorizer runs the Google OAuth flow.
type CalendarAuthorizer interface {
	AuthURL(ctx context.Context, uid string) (string, error)
	Exchange(ctx context.Context, code, state, uid string) (string, *calendar.Credentials, error)
}

// AIHandler serves the AI and calendar API that the app-side adapter
// calls. Apart from /api/analyze every endpoint runs behind RequireUser and
// acts only for the session user; a user_id in the payload must match it.
type AIHandler struct {
	analyzer    InteractionAnalyzer
	chat        ChatResponder
	diagnoser   Diagnoser
	recordings  RecordingOpener
	calendar    CalendarAuthorizer
	credentials calendar.CredentialStore
	events      calendar.EventCreator
	logger      *logging.Logger
}

// AIHandlerConfig wires the backends. Nil members answer 503.
type AIHandlerConfig struct {
	Analyzer    InteractionAnalyzer
	Chat        ChatResponder
	Diagnoser   Diagnoser
	Recordings  RecordingOpener
	Calendar    CalendarAuthorizer
	Credentials calendar.CredentialStore
	Events      calendar.EventCreator
	Logger      *logging.Logger
}

func NewAIHandler(cfg AIHandlerConfig) *AIHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &AIHandler{
		analyzer:    cfg.Analyzer,
		chat:        cfg.Chat,
		diagnoser:   cfg.Diagnoser,
		recordings:  cfg.Recordings,
		calendar:    cfg.Calendar,
		credentials: cfg.Credentials,
		events:      cfg.Events,
		logger:      cfg.Logger,
	}
}

// AudioURL maps a stored diagnostics object key (spoken analysis or
// uploaded recording) to the URL that serves it.
func AudioURL(baseURL string) func(key string) string {
	base := strings.TrimRight(baseURL, "/")
	return func(key string) string {
		return base + audioRoute + key
	}
}

// caller resolves the session user and checks it against the user id the
// payload claims. An empty claim means the session user.
func (h *AIHandler) caller(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		jsonError(w, "sign in required", http.StatusUnauthorized)
		return "", false
	}
	if claimed = strings.TrimSpace(claimed); claimed != "" && claimed != id.UID {
		h.logger.ForUser(id.UID).Warn("rejected request for another user", "claimed_user_id", claimed, "path", r.URL.Path)
		jsonError(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return id.UID, true
}

type analyzeRequest struct {
	MedicationList []string `json:"medication_list"`
}

// Analyze handles POST /api/analyze.
func (h *AIHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		jsonError(w, "analysis is not configured", http.StatusServiceUnavailable)
		return
	}
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	if req.MedicationList == nil {
		jsonError(w, "medication_list is required", http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, h.analyzer.Analyze(r.Context(), req.MedicationList))
}

// Chat handles POST /api/chat.
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		jsonError(w, "assistant is not configured", http.StatusServiceUnavailable)
		return
	}
	var req assistant.Request
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	uid, ok := h.caller(w, r, req.UserID)
	if !ok {
		return
	}
	req.UserID = uid
	reply, err := h.chat.Reply(r.Context(), req)
	switch {
	case errors.Is(err, assistant.ErrEmptyQuery), errors.Is(err, records.ErrMissingField):
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		h.logger.ForUser(req.UserID).Error("chat failed", "error", err)
		jsonError(w, "chat failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Diagnose handles POST /api/diagnose (multipart: image, audio, user_id).
func (h *AIHandler) Diagnose(w http.ResponseWriter, r *http.Request) {
	if h.diagnoser == nil {
		jsonError(w, "diagnostics are not configured", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	uid, ok := h.caller(w, r, r.FormValue("user_id"))
	if !ok {
		return
	}
	in := diagnostics.Input{UserID: uid}
	var err error
	if in.Image, in.ImageMIME, err = readUpload(r, "image"); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if in.Audio, in.AudioMIME, err = readUpload(r, "audio"); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.diagnoser.Diagnose(r.Context(), in)
	switch {
	case errors.Is(err, diagnostics.ErrNoInput):
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		h.logger.ForUser(in.UserID).Error("diagnose failed", "error", err)
		jsonError(w, "diagnosis failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func readUpload(r *http.Request, field string) ([]byte, string, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("invalid %s upload", field)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("invalid %s upload", field)
	}
	contentType := hdr.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// Recording handles GET /api/diagnostics/audio/*. Only the owner can fetch
// an object; audio elements pass the session as ?access_token=.
func (h *AIHandler) Recording(w http.ResponseWriter, r *http.Request) {
	if h.recordings == nil {
		http.NotFound(w, r)
		return
	}
	uid, ok := h.caller(w, r, "")
	if !ok {
		return
	}
	key := chi.URLParam(r, "*")
	if !diagnostics.OwnedBy(key, uid) {
		http.NotFound(w, r)
		return
	}
	body, contentType, err := h.recordings.Open(r.Context(), key)
	if errors.Is(err, diagnostics.ErrObjectNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.logger.Error("failed to open recording", "error", err, "key", key)
		jsonError(w, "failed to load recording", http.StatusInternalServerError)
		return
	}
	defer body.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = io.Copy(w, body)
}

// CalendarAuthURL handles GET /api/calendar/auth-url?user_id=.
func (h *AIHandler) CalendarAuthURL(w http.ResponseWriter, r *http.Request) {
	if h.calendar == nil {
		jsonError(w, "calendar is not configured", http.StatusServiceUnavailable)
		return
	}
	uid, ok := h.caller(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	authURL, err := h.calendar.AuthURL(r.Context(), uid)
	if err != nil {
		h.logger.ForUser(uid).Error("failed to build calendar auth url", "error", err)
		jsonError(w, "failed to start calendar authorization", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

type calendarTokenRequest struct {
	Code   string `json:"code"`
	State  string `json:"state"`
	UserID string `json:"userId"`
}

// CalendarToken handles POST /api/calendar/token.
func (h *AIHandler) CalendarToken(w http.ResponseWriter, r *http.Request) {
	if h.calendar == nil {
		jsonError(w, "calendar is not configured", http.StatusServiceUnavailable)
		return
	}
	var req calendarTokenRequest
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		jsonError(w, "code is required", http.StatusUnprocessableEntity)
		return
	}
	uid, ok := h.caller(w, r, req.UserID)
	if !ok {
		return
	}
	req.UserID = uid
	owner, creds, err := h.calendar.Exchange(r.Context(), req.Code, req.State, uid)
	if errors.Is(err, calendar.ErrInvalidState) {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.ForUser(req.UserID).Warn("calendar token exchange failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "detail": "Failed to connect Google Calendar"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": owner, "credentials": creds})
}

type syncRequest struct {
	Appointment records.Appointment   `json:"appointment"`
	Credentials *calendar.Credentials `json:"credentials"`
}

// SyncAppointment handles POST /appointments for the session user's own
// appointment. Without credentials in the body the user's cached
// credentials are used.
func (h *AIHandler) SyncAppointment(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		jsonError(w, "calendar is not configured", http.StatusServiceUnavailable)
		return
	}
	var req syncRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusUnprocessableEntity)
		return
	}
	uid, ok := h.caller(w, r, req.Appointment.UserID)
	if !ok {
		return
	}
	req.Appointment.UserID = uid
	creds := req.Credentials
	if creds == nil && h.credentials != nil {
		loaded, err := h.credentials.Load(r.Context(), uid)
		if err != nil && !errors.Is(err, calendar.ErrNotAuthorized) {
			h.logger.ForUser(uid).Error("failed to load calendar credentials", "error", err)
		}
		creds = loaded
	}
	if creds == nil {
		writeJSON(w, http.StatusOK, calendar.SyncResult{Success: false, Message: "Google Calendar not connected"})
		return
	}
	writeJSON(w, http.StatusOK, h.events.Create(r.Context(), *creds, req.Appointment))
}

// Health handles GET /.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "MediGuard API running"})
}

