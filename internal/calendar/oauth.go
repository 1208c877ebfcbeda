package calendar

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// Scope grants read/write access to the user's calendars.
const Scope = "https://www.googleapis.com/auth/calendar"

const (
	MockCode  = "MOCK_CODE"
	MockToken = "mock_token"
)

// OAuthConfig holds the Google client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	StateTTL     time.Duration
}

// configured reports whether real credentials were supplied; the sample
// values "client_id"/"client_secret" count as missing.
func (c OAuthConfig) configured() bool {
	id, secret := strings.TrimSpace(c.ClientID), strings.TrimSpace(c.ClientSecret)
	return id != "" && secret != "" && id != "client_id" && secret != "client_secret"
}

// OAuth runs the authorization-code flow. Without a client registration it
// runs in mock mode: consent URLs point straight back at the redirect with
// MockCode, and exchanges yield mock credentials.
type OAuth struct {
	cfg      *oauth2.Config
	mock     bool
	stateTTL time.Duration
	store    CredentialStore
	logger   *logging.Logger
}

func NewOAuth(c OAuthConfig, store CredentialStore, logger *logging.Logger) *OAuth {
	if store == nil {
		panic("calendar: credential store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if c.RedirectURL == "" {
		c.RedirectURL = "http://localhost:5173"
	}
	o := &OAuth{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       []string{Scope},
			Endpoint:     google.Endpoint,
		},
		mock:     !c.configured(),
		stateTTL: c.StateTTL,
		store:    store,
		logger:   logger,
	}
	if o.mock {
		logger.Warn("google calendar credentials missing, using mock mode")
	}
	return o
}

// Mock reports whether the flow is simulated.
func (o *OAuth) Mock() bool { return o.mock }

// Config exposes the oauth2 configuration for token refresh.
func (o *OAuth) Config() *oauth2.Config { return o.cfg }

// AuthURL issues a one-time state for uid and returns the consent URL.
func (o *OAuth) AuthURL(ctx context.Context, uid string) (string, error) {
	if strings.TrimSpace(uid) == "" {
		return "", fmt.Errorf("calendar: user id required")
	}
	state := uuid.NewString()
	if err := o.store.NewState(ctx, uid, state, o.stateTTL); err != nil {
		return "", err
	}
	if o.mock {
		v := url.Values{"code": {MockCode}, "state": {state}}
		return o.cfg.RedirectURL + "?" + v.Encode(), nil
	}
	return o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// Exchange trades code for credentials and caches them. The state issued by
// AuthURL identifies the user and can be used once; mock exchanges may omit
// it. When uid is also given it must match the state's owner.
func (o *OAuth) Exchange(ctx context.Context, code, state, uid string) (string, *Credentials, error) {
	owner := uid
	if state != "" {
		bound, err := o.store.ConsumeState(ctx, state)
		if err != nil {
			return "", nil, err
		}
		if uid != "" && uid != bound {
			return "", nil, ErrInvalidState
		}
		owner = bound
	} else if !o.mock {
		return "", nil, ErrInvalidState
	}
	if owner == "" {
		return "", nil, fmt.Errorf("calendar: user id required")
	}

	var creds Credentials
	if o.mock || code == MockCode {
		creds = Credentials{
			Token:        MockToken,
			RefreshToken: "mock_refresh_token",
			TokenURI:     google.Endpoint.TokenURL,
			ClientID:     "mock_client_id",
			ClientSecret: "mock_client_secret",
			Scopes:       []string{Scope},
		}
	} else {
		tok, err := o.cfg.Exchange(ctx, code)
		if err != nil {
			return "", nil, fmt.Errorf("calendar: exchange code: %w", err)
		}
		creds = Credentials{
			Token:        tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenURI:     o.cfg.Endpoint.TokenURL,
			ClientID:     o.cfg.ClientID,
			ClientSecret: o.cfg.ClientSecret,
			Scopes:       o.cfg.Scopes,
		}
	}
	if err := o.store.Save(ctx, owner, creds); err != nil {
		return "", nil, err
	}
	o.logger.Info("google calendar connected", "user_id", owner, "mock", creds.Token == MockToken)
	return owner, &creds, nil
}

// TokenSource builds a refreshing token source from stored credentials,
// filling in the client registration when the credentials lack it.
func (o *OAuth) TokenSource(ctx context.Context, creds Credentials) oauth2.TokenSource {
	cfg := *o.cfg
	if creds.ClientID != "" {
		cfg.ClientID = creds.ClientID
	}
	if creds.ClientSecret != "" {
		cfg.ClientSecret = creds.ClientSecret
	}
	if creds.TokenURI != "" {
		cfg.Endpoint.TokenURL = creds.TokenURI
	}
	if len(creds.Scopes) > 0 {
		cfg.Scopes = creds.Scopes
	}
	return cfg.TokenSource(ctx, &oauth2.Token{AccessToken: creds.Token, RefreshToken: creds.RefreshToken})
}
