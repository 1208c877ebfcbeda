package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

type stubSignIn struct {
	err error
}

func (s stubSignIn) SignInWithGoogle(_ context.Context, idToken string) (*session.Identity, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &session.Identity{UID: "g-" + idToken, DisplayName: "Asha Patel", Email: "asha@example.com"}, "jwt-google", nil
}

func (s stubSignIn) SignUp(_ context.Context, email, _, name string) (*session.Identity, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &session.Identity{UID: "p-1", DisplayName: name, Email: email}, "jwt-signup", nil
}

func (s stubSignIn) Login(_ context.Context, email, _ string) (*session.Identity, string, error) {
	if s.err != nil {
		return nil, "", s.err
	}
	return &session.Identity{UID: "p-1", Email: email}, "jwt-login", nil
}

func TestGoogleSignInEnsuresProfile(t *testing.T) {
	repo := records.NewRepository(docstore.NewMemoryStore(), logging.Discard())
	h := NewAuthHandler(stubSignIn{}, repo, logging.Discard())

	rec := serve(t, http.MethodPost, "/google", "/google", h.Google, nil, map[string]string{"id_token": "abc"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "jwt-google", resp.Token)
	assert.Equal(t, "g-abc", resp.User.UID)
	require.NotNil(t, resp.Profile)
	assert.False(t, resp.Profile.ProfileCompleted)

	profile, err := repo.Profile(context.Background(), "g-abc")
	require.NoError(t, err)
	assert.Equal(t, "Asha Patel", profile.DisplayName)

	rec = serve(t, http.MethodPost, "/google", "/google", h.Google, nil, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPasswordSignInErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		detail string
	}{
		{"email in use", session.ErrEmailInUse, http.StatusConflict, "This email is already registered."},
		{"weak password", session.ErrWeakPassword, http.StatusBadRequest, "Password should be at least 6 characters."},
		{"invalid email", session.ErrInvalidEmail, http.StatusBadRequest, "Please enter a valid email address."},
		{"bad credentials", session.ErrInvalidCredentials, http.StatusUnauthorized, "Invalid email or password."},
		{"google disabled", session.ErrGoogleDisabled, http.StatusServiceUnavailable, "An error occurred. Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAuthHandler(stubSignIn{err: tc.err}, nil, logging.Discard())
			rec := serve(t, http.MethodPost, "/signup", "/signup", h.SignUp, nil, map[string]string{
				"email": "asha@example.com", "password": "secret1", "name": "Asha",
			})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.detail, decodeBody[map[string]string](t, rec)["detail"])
		})
	}
}

func TestLoginWithoutProfileStore(t *testing.T) {
	h := NewAuthHandler(stubSignIn{}, nil, logging.Discard())
	rec := serve(t, http.MethodPost, "/login", "/login", h.Login, nil, map[string]string{"email": "a@b.co", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "jwt-login", resp.Token)
	assert.Nil(t, resp.Profile)
}
