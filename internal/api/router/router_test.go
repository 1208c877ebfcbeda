package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/calendar"
	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/http/handlers"
	httpmiddleware "github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

type staticAnalyzer struct{}

func (staticAnalyzer) Analyze(_ context.Context, names []string) records.Analysis {
	return records.Analysis{MedicationCount: len(names), RiskLevel: "LOW"}
}

type countingEvents struct{ created []records.Appointment }

func (e *countingEvents) Create(_ context.Context, _ calendar.Credentials, appt records.Appointment) calendar.SyncResult {
	e.created = append(e.created, appt)
	return calendar.SyncResult{Success: true, EventID: "ev-" + appt.ID}
}

type testEnv struct {
	router http.Handler
	issuer *session.Issuer
	creds  *calendar.MemoryCredentialStore
	events *countingEvents
}

func newTestRouter(t *testing.T, aiLimiter *httpmiddleware.RateLimiter) *testEnv {
	t.Helper()
	logger := logging.Discard()
	store := docstore.NewMemoryStore()
	issuer, err := session.NewIssuer("router-secret", time.Hour)
	require.NoError(t, err)
	auth := session.NewAuthenticator(session.AuthenticatorConfig{
		Issuer:   issuer,
		Accounts: session.NewAccounts(store),
		Logger:   logger,
	})
	repo := records.NewRepository(store, logger)
	creds := calendar.NewMemoryCredentialStore()
	events := &countingEvents{}

	cfg := &Config{
		Logger:      logger,
		Identity:    auth,
		AuthHandler: handlers.NewAuthHandler(auth, repo, logger),
		AppHandler:  handlers.NewAppHandler(handlers.AppHandlerConfig{Repo: repo, Logger: logger}),
		AIHandler: handlers.NewAIHandler(handlers.AIHandlerConfig{
			Analyzer:    staticAnalyzer{},
			Credentials: creds,
			Events:      events,
			Logger:      logger,
		}),
		AILimiter:   aiLimiter,
	}
	return &testEnv{router: New(cfg), issuer: issuer, creds: creds, events: events}
}

func (e *testEnv) token(t *testing.T, id *session.Identity) string {
	t.Helper()
	tok, err := e.issuer.Mint(id)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	env := newTestRouter(t, nil)
	for _, path := range []string{"/", "/health"} {
		rr := env.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"MediGuard API running"}`, rr.Body.String())
	}
}

func TestAppRoutesRequireSession(t *testing.T) {
	env := newTestRouter(t, nil)

	rr := env.do(http.MethodGet, "/api/app/reports", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = env.do(http.MethodGet, "/api/app/reports", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	tok := env.token(t, &session.Identity{UID: "u1", DisplayName: "Asha"})
	rr = env.do(http.MethodGet, "/api/app/reports", tok, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = env.do(http.MethodGet, "/api/app/reports/summary", tok, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	env := newTestRouter(t, nil)
	patient := env.token(t, &session.Identity{UID: "u1"})
	admin := env.token(t, &session.Identity{UID: "a1", Roles: []string{session.RoleAdmin}})

	rr := env.do(http.MethodGet, "/api/app/admin/stats", patient, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(http.MethodGet, "/api/app/admin/stats", admin, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"pending_appointments":0`)

	body := `{"name":"Dr. Das","location":"Kolkata","speciality":"ENT","education":"MS","whatsapp":"+91"}`
	rr = env.do(http.MethodPost, "/api/app/doctors", patient, body)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = env.do(http.MethodPost, "/api/app/doctors", admin, body)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(http.MethodGet, "/api/app/doctors", patient, "")
	assert.Contains(t, rr.Body.String(), "Dr. Das")
}

func TestSignUpThenUseToken(t *testing.T) {
	env := newTestRouter(t, nil)
	rr := env.do(http.MethodPost, "/api/auth/signup", "", `{"email":"asha@example.com","password":"secret1","name":"Asha"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, jsonDecode(rr, &resp))
	require.NotEmpty(t, resp.Token)

	rr = env.do(http.MethodGet, "/api/app/me", resp.Token, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"need_onboarding":true`)
}

func TestAIRoutesAreRateLimited(t *testing.T) {
	env := newTestRouter(t, httpmiddleware.NewRateLimiter(0.001, 2))
	for i := 0; i < 2; i++ {
		rr := env.do(http.MethodPost, "/api/analyze", "", `{"medication_list":["Aspirin"]}`)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := env.do(http.MethodPost, "/api/analyze", "", `{"medication_list":["Aspirin"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	rr = env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestUnconfiguredAIBackendsReturn503(t *testing.T) {
	env := newTestRouter(t, nil)
	tok := env.token(t, &session.Identity{UID: "u1"})
	rr := env.do(http.MethodPost, "/api/chat", tok, `{"user_id":"u1","query":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestUserScopedAIRoutesRequireSession(t *testing.T) {
	env := newTestRouter(t, nil)
	for _, tc := range []struct{ method, path, body string }{
		{http.MethodPost, "/api/chat", `{"user_id":"u1","query":"hi"}`},
		{http.MethodPost, "/api/diagnose", ""},
		{http.MethodGet, "/api/calendar/auth-url?user_id=u1", ""},
		{http.MethodPost, "/api/calendar/token", `{"code":"c","userId":"u1"}`},
		{http.MethodPost, "/appointments", `{"appointment":{"id":"a1","userId":"u1"}}`},
		{http.MethodGet, "/api/diagnostics/audio/diagnostics/v1/u1/x.mp3", ""},
	} {
		rr := env.do(tc.method, tc.path, "", tc.body)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tc.path)
	}
}

func TestCalendarSyncStaysWithinOwnAccount(t *testing.T) {
	env := newTestRouter(t, nil)
	require.NoError(t, env.creds.Save(context.Background(), "victim", calendar.Credentials{Token: "tok"}))
	body := `{"appointment":{"id":"a1","userId":"victim","date":"2025-06-01","time":"10:00"}}`

	rr := env.do(http.MethodPost, "/appointments", "", body)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	intruder := env.token(t, &session.Identity{UID: "intruder"})
	rr = env.do(http.MethodPost, "/appointments", intruder, body)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(http.MethodPost, "/appointments", intruder, `{"appointment":{"id":"a1"}}`)
	assert.JSONEq(t, `{"success":false,"message":"Google Calendar not connected"}`, rr.Body.String())
	assert.Empty(t, env.events.created)

	owner := env.token(t, &session.Identity{UID: "victim"})
	rr = env.do(http.MethodPost, "/appointments", owner, body)
	assert.Contains(t, rr.Body.String(), `"event_id":"ev-a1"`)
}

func jsonDecode(rr *httptest.ResponseRecorder, v any) error {
	return json.Unmarshal(rr.Body.Bytes(), v)
}
