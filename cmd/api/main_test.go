package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/calendar"
	appconfig "github.com/mediguard/mediguard-platform/internal/config"
	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	_, handler, appMetrics := setupMetrics()
	require.NotNil(t, handler)
	require.NotNil(t, appMetrics)

	appMetrics.ObserveCall("analyze", "ok", 20*time.Millisecond)
	appMetrics.WatchConnected()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, "mediguard_medapi_calls_total"), "api call counter exported")
	assert.True(t, strings.Contains(body, "go_goroutines"), "runtime collectors registered")
}

func TestSetupAuthSecretHandling(t *testing.T) {
	store := docstore.NewMemoryStore()

	_, err := setupAuth(&appconfig.Config{Env: "production", SessionTTL: time.Hour}, store, logging.Discard())
	assert.Error(t, err)

	auth, err := setupAuth(&appconfig.Config{Env: "development", SessionTTL: time.Hour}, store, logging.Discard())
	require.NoError(t, err)

	id, token, err := auth.SignUp(context.Background(), "pat@example.com", "secret123", "Pat")
	require.NoError(t, err)
	got, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, id.UID, got.UID)

	_, _, err = auth.SignInWithGoogle(context.Background(), "google-token")
	assert.Error(t, err, "google sign-in disabled without a client id")
}

func TestSetupInlineWorkerDisabled(t *testing.T) {
	worker := setupInlineWorker(context.Background(), &appconfig.Config{}, logging.Discard(), nil, nil, nil, nil, nil, nil)
	assert.Nil(t, worker)
	waitForInlineWorker(worker, logging.Discard())
}

func TestSetupInlineWorkerStartsAndStops(t *testing.T) {
	logger := logging.Discard()
	repo := records.NewRepository(docstore.NewMemoryStore(), logger)
	creds := calendar.NewMemoryCredentialStore()
	oauth := calendar.NewOAuth(calendar.OAuthConfig{}, creds, logger)
	events := calendar.NewEvents(oauth, "UTC", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := setupInlineWorker(ctx, &appconfig.Config{WorkerCount: 1}, logger, calendar.NewMemoryQueue(2), repo, creds, events, nil, nil)
	require.NotNil(t, worker)

	cancel()
	waitForInlineWorker(worker, logger)
}
