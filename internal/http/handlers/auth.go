package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// SignInService is implemented by session.Authenticator.
type SignInService interface {
	SignInWithGoogle(ctx context.Context, idToken string) (*session.Identity, string, error)
	SignUp(ctx context.Context, email, password, name string) (*session.Identity, string, error)
	Login(ctx context.Context, email, password string) (*session.Identity, string, error)
}

// ProfileEnsurer creates users/{uid} on first sign-in.
type ProfileEnsurer interface {
	EnsureProfile(ctx context.Context, uid, displayName, email, photoURL string) (*records.Profile, error)
}

// AuthHandler issues session tokens.
type AuthHandler struct {
	auth     SignInService
	profiles ProfileEnsurer
	logger   *logging.Logger
}

func NewAuthHandler(auth SignInService, profiles ProfileEnsurer, logger *logging.Logger) *AuthHandler {
	if auth == nil {
		panic("handlers: sign-in service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AuthHandler{auth: auth, profiles: profiles, logger: logger}
}

// SessionResponse is returned by every sign-in route.
type SessionResponse struct {
	Token   string            `json:"token"`
	User    *session.Identity `json:"user"`
	Profile *records.Profile  `json:"profile,omitempty"`
}

// Google handles POST /api/auth/google {"id_token": "..."}.
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"id_token"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.IDToken) == "" {
		jsonError(w, "id_token is required", http.StatusBadRequest)
		return
	}
	id, token, err := h.auth.SignInWithGoogle(r.Context(), req.IDToken)
	h.finish(w, r, id, token, err)
}

type passwordRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignUp handles POST /api/auth/signup.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, token, err := h.auth.SignUp(r.Context(), req.Email, req.Password, req.Name)
	h.finish(w, r, id, token, err)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	h.finish(w, r, id, token, err)
}

func (h *AuthHandler) finish(w http.ResponseWriter, r *http.Request, id *session.Identity, token string, err error) {
	if err != nil {
		jsonError(w, session.UserMessage(err), authStatus(err))
		return
	}
	resp := SessionResponse{Token: token, User: id}
	if h.profiles != nil {
		profile, err := h.profiles.EnsureProfile(r.Context(), id.UID, id.DisplayName, id.Email, id.PhotoURL)
		if err != nil {
			h.logger.ForUser(id.UID).Error("failed to ensure profile", "error", err)
		} else {
			resp.Profile = profile
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrEmailInUse):
		return http.StatusConflict
	case errors.Is(err, session.ErrWeakPassword), errors.Is(err, session.ErrInvalidEmail):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrGoogleDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}
