package handlers

import (
	"errors"
	"net/http"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
)

type meResponse struct {
	User           *session.Identity      `json:"user"`
	Profile        *records.Profile       `json:"profile,omitempty"`
	NeedOnboarding bool                   `json:"need_onboarding"`
	Form           records.OnboardingForm `json:"form"`
}

// Me handles GET /api/app/me.
func (h *AppHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	profile, err := h.repo.Profile(r.Context(), id.UID)
	if err != nil && !errors.Is(err, records.ErrNotFound) {
		h.logger.ForUser(id.UID).Error("failed to load profile", "error", err)
		jsonError(w, "failed to load profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		User:           id,
		Profile:        profile,
		NeedOnboarding: profile == nil || !profile.ProfileCompleted,
		Form:           records.FormFrom(profile),
	})
}

// CompleteOnboarding handles POST /api/app/profile/onboarding.
func (h *AppHandler) CompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUser(w, r)
	if !ok {
		return
	}
	var form records.OnboardingForm
	if err := decodeJSON(r, &form); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	profile, err := h.repo.CompleteOnboarding(r.Context(), id.UID, form)
	if err != nil {
		h.logger.ForUser(id.UID).Error("failed to save onboarding", "error", err)
		jsonError(w, "failed to save profile", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
