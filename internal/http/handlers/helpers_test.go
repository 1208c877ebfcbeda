package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/internal/http/middleware"
	"github.com/mediguard/mediguard-platform/internal/medapi"
	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/internal/session"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

var (
	patient = &session.Identity{UID: "u1", DisplayName: "Asha Patel", Email: "asha@example.com"}
	other   = &session.Identity{UID: "u2", DisplayName: "Ravi", Email: "ravi@example.com"}
	admin   = &session.Identity{UID: "a1", DisplayName: "Admin", Email: "admin@example.com", Roles: []string{session.RoleAdmin}}
)

// fakeAPI records what the app surface sends to the external service.
type fakeAPI struct {
	mu          sync.Mutex
	analyzed    [][]string
	analysis    *records.Analysis
	analyzeErr  error
	chats       []medapi.ChatRequest
	diagnoses   []medapi.DiagnoseRequest
	uploads     map[string]string
	exchanged   []string
	syncResult  *medapi.SyncResult
	syncedAppts []records.Appointment
}

func (f *fakeAPI) Analyze(ctx context.Context, names []string) (*records.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, names)
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	if f.analysis != nil {
		cp := *f.analysis
		return &cp, nil
	}
	return &records.Analysis{MedicationCount: len(names), RiskLevel: "LOW"}, nil
}

func (f *fakeAPI) Chat(ctx context.Context, req medapi.ChatRequest) (*medapi.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, req)
	return &medapi.ChatReply{Text: "Stay hydrated!", Role: records.RoleModel}, nil
}

func (f *fakeAPI) Diagnose(ctx context.Context, req medapi.DiagnoseRequest) (*medapi.Diagnosis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diagnoses = append(f.diagnoses, req)
	if f.uploads == nil {
		f.uploads = map[string]string{}
	}
	for field, a := range map[string]*medapi.Attachment{"image": req.Image, "audio": req.Audio} {
		if a == nil {
			continue
		}
		raw, _ := io.ReadAll(a.Body)
		f.uploads[field] = string(raw)
	}
	return &medapi.Diagnosis{Transcription: "rash on arm", Analysis: "Looks like eczema."}, nil
}

func (f *fakeAPI) CalendarAuthURL(ctx context.Context, uid string) (string, error) {
	return "https://accounts.google.com/o/oauth2/auth?state=" + uid, nil
}

func (f *fakeAPI) ExchangeCalendarCode(ctx context.Context, code, state, uid string) (*medapi.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanged = append(f.exchanged, code+"|"+state+"|"+uid)
	if code == "bad" {
		return nil, &medapi.APIError{Op: "calendar_token", Status: http.StatusOK, Detail: "Failed to connect Google Calendar"}
	}
	return &medapi.Credentials{Token: "tok"}, nil
}

func (f *fakeAPI) SyncAppointment(ctx context.Context, appt records.Appointment, creds *medapi.Credentials) (*medapi.SyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncedAppts = append(f.syncedAppts, appt)
	if f.syncResult != nil {
		return f.syncResult, nil
	}
	return &medapi.SyncResult{Success: false, Message: "Google Calendar not connected"}, nil
}

type fakeEnqueuer struct {
	jobs []string
}

func (f *fakeEnqueuer) EnqueueSync(ctx context.Context, appointmentID, uid string) error {
	f.jobs = append(f.jobs, appointmentID+"|"+uid)
	return nil
}

type fakeNotifier struct {
	reviewed []records.Appointment
}

func (f *fakeNotifier) AppointmentReviewed(ctx context.Context, appt records.Appointment) error {
	f.reviewed = append(f.reviewed, appt)
	return nil
}

type appFixture struct {
	repo     *records.Repository
	api      *fakeAPI
	sync     *fakeEnqueuer
	notifier *fakeNotifier
	handler  *AppHandler
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	repo := records.NewRepository(docstore.NewMemoryStore(), logging.Discard())
	f := &appFixture{repo: repo, api: &fakeAPI{}, sync: &fakeEnqueuer{}, notifier: &fakeNotifier{}}
	f.handler = NewAppHandler(AppHandlerConfig{
		Repo:     repo,
		API:      f.api,
		Sync:     f.sync,
		Notifier: f.notifier,
		Logger:   logging.Discard(),
	})
	return f
}

// serve runs one request through a chi router so URL params resolve, with
// id attached the way RequireUser would.
func serve(t *testing.T, method, pattern, target string, h http.HandlerFunc, id *session.Identity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if id != nil {
		req = req.WithContext(middleware.WithIdentity(req.Context(), id))
	}
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func addDoctor(t *testing.T, repo *records.Repository) *records.Doctor {
	t.Helper()
	d, err := repo.AddDoctor(context.Background(), records.DoctorInput{
		Name: "Meera Rao", Location: "Pune", Speciality: "Cardiology", Education: "MD", WhatsApp: "+9111111",
	})
	require.NoError(t, err)
	return d
}
