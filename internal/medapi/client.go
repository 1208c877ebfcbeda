package medapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediguard/mediguard-platform/internal/records"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const (
	defaultBaseURL = "http://localhost:8000"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

// ErrEmptyMedicationList is returned before any request when there is
// nothing to analyze.
var ErrEmptyMedicationList = errors.New("medapi: medication list is empty")

// APIError is a non-2xx response. Detail carries the body's "detail" or
// "error" field when the server sent one.
type APIError struct {
	Op     string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("medapi: %s: %d: %s", e.Op, e.Status, e.Detail)
}

// CallObserver receives one observation per outbound call.
type CallObserver interface {
	ObserveCall(op, outcome string, d time.Duration)
}

// Client talks to the AI/calendar API. Calls are stateless, time-bounded and
// never retried.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *logging.Logger
	observer   CallObserver
	token      func(ctx context.Context) string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithObserver records call outcomes and latency.
func WithObserver(o CallObserver) Option {
	return func(c *Client) { c.observer = o }
}

// WithAuthToken sends the token returned for each call's context as a
// bearer credential. The user-scoped endpoints reject anonymous calls.
func WithAuthToken(token func(ctx context.Context) string) Option {
	return func(c *Client) { c.token = token }
}

// New builds a client for baseURL. A zero timeout uses 30s.
func New(baseURL string, timeout time.Duration, logger *logging.Logger, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Analyze posts the medication names to /api/analyze.
func (c *Client) Analyze(ctx context.Context, names []string) (*records.Analysis, error) {
	if len(names) == 0 {
		return nil, ErrEmptyMedicationList
	}
	var out records.Analysis
	body := map[string]any{"medication_list": names}
	if err := c.doJSON(ctx, "analyze", http.MethodPost, "/api/analyze", body, &out); err != nil {
		return nil, err
	}
	if out.RiskLevel == "" {
		out.RiskLevel = "LOW"
	}
	return &out, nil
}

// Credentials are the Google OAuth credentials the calendar endpoints
// exchange.
type Credentials struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// SyncResult is the outcome of /appointments.
type SyncResult struct {
	Success   bool   `json:"success"`
	EventID   string `json:"event_id,omitempty"`
	EventLink string `json:"event_link,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SyncAppointment asks the API to create a calendar event for appt.
// Credentials may be nil, in which case no event is created.
func (c *Client) SyncAppointment(ctx context.Context, appt records.Appointment, creds *Credentials) (*SyncResult, error) {
	payload := map[string]any{
		"appointment": appt,
	}
	if creds != nil {
		payload["credentials"] = creds
	}
	var out SyncResult
	if err := c.doJSON(ctx, "sync_appointment", http.MethodPost, "/appointments", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CalendarAuthURL returns the Google consent URL for uid.
func (c *Client) CalendarAuthURL(ctx context.Context, uid string) (string, error) {
	var out struct {
		AuthURL string `json:"auth_url"`
	}
	path := "/api/calendar/auth-url?user_id=" + url.QueryEscape(uid)
	if err := c.doJSON(ctx, "calendar_auth_url", http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	if out.AuthURL == "" {
		return "", &APIError{Op: "calendar_auth_url", Status: http.StatusOK, Detail: "missing auth_url"}
	}
	return out.AuthURL, nil
}

// ExchangeCalendarCode trades an OAuth code for credentials. state is the
// value returned on the consent redirect and may be empty in mock mode.
func (c *Client) ExchangeCalendarCode(ctx context.Context, code, state, uid string) (*Credentials, error) {
	var out struct {
		Success     bool         `json:"success"`
		Credentials *Credentials `json:"credentials"`
		Detail      string       `json:"detail"`
	}
	body := map[string]string{"code": code, "userId": uid}
	if state != "" {
		body["state"] = state
	}
	if err := c.doJSON(ctx, "calendar_token", http.MethodPost, "/api/calendar/token", body, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Credentials == nil {
		detail := out.Detail
		if detail == "" {
			detail = "Failed to connect Google Calendar"
		}
		return nil, &APIError{Op: "calendar_token", Status: http.StatusOK, Detail: detail}
	}
	return out.Credentials, nil
}

// ChatRequest is the /api/chat payload.
type ChatRequest struct {
	UserID      string           `json:"user_id"`
	Query       string           `json:"query"`
	MedHistory  []string         `json:"med_history"`
	UserProfile *records.Profile `json:"user_profile,omitempty"`
}

// ChatReply is the assistant's answer.
type ChatReply struct {
	Text string `json:"text"`
	Role string `json:"role"`
}

// Chat sends one user turn. The API stores both turns in the chat
// collection, so callers see the reply through their subscription.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if req.MedHistory == nil {
		req.MedHistory = []string{}
	}
	var out ChatReply
	if err := c.doJSON(ctx, "chat", http.MethodPost, "/api/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Attachment is one uploaded file.
type Attachment struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// DiagnoseRequest carries at least one of Image or Audio.
type DiagnoseRequest struct {
	UserID string
	Image  *Attachment
	Audio  *Attachment
}

// Diagnosis is the /api/diagnose response.
type Diagnosis struct {
	Transcription string `json:"transcription"`
	Analysis      string `json:"analysis"`
	AudioURL      string `json:"audio_url,omitempty"`
	RecordingURL  string `json:"recording_url,omitempty"`
}

// Diagnose uploads the attachments as multipart form data.
func (c *Client) Diagnose(ctx context.Context, req DiagnoseRequest) (*Diagnosis, error) {
	if req.Image == nil && req.Audio == nil {
		return nil, errors.New("medapi: diagnose needs an image or an audio recording")
	}
	uid := req.UserID
	if uid == "" {
		uid = "guest_user"
	}
	body, contentType, err := encodeMultipart(uid, req.Image, req.Audio)
	if err != nil {
		return nil, err
	}
	var out Diagnosis
	if err := c.do(ctx, "diagnose", http.MethodPost, "/api/diagnose", body, contentType, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("medapi: %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, op, method, path, body, contentType, out)
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			c.observer.ObserveCall(op, outcome, time.Since(start))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("medapi: %s: build request: %w", op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != nil {
		if tok := c.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("medapi call failed", "op", op, "error", err)
		return fmt.Errorf("medapi: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Op: op, Status: resp.StatusCode, Detail: errorDetail(raw)}
		c.logger.Warn("medapi call rejected", "op", op, "status", resp.StatusCode, "detail", apiErr.Detail)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("medapi: %s: decode response: %w", op, err)
	}
	return nil
}

const genericDetail = "Failed to connect to AI Service"

// errorDetail extracts a human-readable message from an error body.
func errorDetail(raw []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return genericDetail
	}
	if len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			if s != "" {
				return s
			}
		} else if string(body.Detail) != "null" {
			// FastAPI validation errors send a list; keep it verbatim.
			return string(body.Detail)
		}
	}
	if body.Error != "" {
		return body.Error
	}
	return genericDetail
}

// Detail returns the user-facing message for err.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return genericDetail
}
