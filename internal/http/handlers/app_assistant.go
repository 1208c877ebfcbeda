package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mediguard/mediguard-platform/internal/medapi"
	"github.com/mediguard/mediguard-platform/internal/records"
)

// ChatHistory handles GET /api/app/chat.
func (h *AppHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	msgs, err := h.repo.Chat(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to load chat", "error", err)
		jsonError(w, "failed to load chat", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []records.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendChat handles POST /api/app/chat {"query": "..."}. The user's
// medication history and profile are attached server-side.
func (h *AppHandler) SendChat(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.api == nil {
		jsonError(w, "assistant unavailable", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Query string `json:"query"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Query) == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	log := h.logger.ForUser(id.UID)

	var meds []string
	if reports, err := h.repo.Reports(ctx, id.UID); err != nil {
		log.Warn("failed to load medication history", "error", err)
	} else {
		meds = medicationHistory(reports)
	}
	profile, err := h.repo.Profile(ctx, id.UID)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		log.Warn("failed to load profile for chat", "error", err)
	}

	reply, err := h.api.Chat(ctx, medapi.ChatRequest{
		UserID:      id.UID,
		Query:       req.Query,
		MedHistory:  meds,
		UserProfile: profile,
	})
	if err != nil {
		jsonError(w, medapi.Detail(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// medicationHistory lists distinct medication names across reports, in
// first-seen order.
func medicationHistory(reports []records.Report) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, rep := range reports {
		for _, name := range records.Names(rep.Medications) {
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, name)
		}
	}
	return out
}

// ClearChat handles DELETE /api/app/chat ("new session").
func (h *AppHandler) ClearChat(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	n, err := h.repo.ClearChat(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to clear chat", "error", err)
		jsonError(w, "failed to clear chat", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// Diagnostics handles GET /api/app/diagnostics.
func (h *AppHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	history, err := h.repo.Diagnostics(r.Context(), id.UID)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to load diagnostics", "error", err)
		jsonError(w, "failed to load history", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []records.DiagnosticRecord{}
	}
	writeJSON(w, http.StatusOK, history)
}

// Diagnose handles POST /api/app/diagnose, forwarding the uploads to the
// external diagnose endpoint under the caller's uid.
func (h *AppHandler) Diagnose(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.api == nil {
		jsonError(w, "diagnostics unavailable", http.StatusServiceUnavailable)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	req := medapi.DiagnoseRequest{UserID: id.UID}
	for field, dst := range map[string]**medapi.Attachment{"image": &req.Image, "audio": &req.Audio} {
		f, hdr, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			jsonError(w, "invalid "+field+" upload", http.StatusBadRequest)
			return
		}
		defer f.Close()
		*dst = &medapi.Attachment{Filename: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Body: f}
	}
	if req.Image == nil && req.Audio == nil {
		jsonError(w, "an image or a voice recording is required", http.StatusBadRequest)
		return
	}
	res, err := h.api.Diagnose(r.Context(), req)
	if err != nil {
		jsonError(w, medapi.Detail(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CalendarAuthURL handles GET /api/app/calendar/auth-url.
func (h *AppHandler) CalendarAuthURL(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.api == nil {
		jsonError(w, "calendar service unavailable", http.StatusServiceUnavailable)
		return
	}
	authURL, err := h.api.CalendarAuthURL(r.Context(), id.UID)
	if err != nil {
		jsonError(w, medapi.Detail(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// ConnectCalendar handles POST /api/app/calendar/connect {"code", "state"}
// after the consent redirect. Credentials stay server-side.
func (h *AppHandler) ConnectCalendar(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	if h.api == nil {
		jsonError(w, "calendar service unavailable", http.StatusServiceUnavailable)
		return
	}
	var req struct {
		Code  string `json:"code"`
		State string `json:"state"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		jsonError(w, "code is required", http.StatusBadRequest)
		return
	}
	if _, err := h.api.ExchangeCalendarCode(r.Context(), req.Code, req.State, id.UID); err != nil {
		jsonError(w, medapi.Detail(err), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": true})
}
