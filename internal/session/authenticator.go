package session

import (
	"context"
	"errors"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

// Authenticator performs sign-in against the configured identity sources
// and issues session tokens. Roles are assigned here and nowhere else, and
// only to identities whose email the source verified: a password sign-up
// for an admin address stays a plain user.
type Authenticator struct {
	issuer   *Issuer
	verifier TokenVerifier
	accounts *Accounts
	admins   map[string]struct{}
	logger   *logging.Logger
}

// AuthenticatorConfig wires the identity sources. Verifier and Accounts may
// be nil to disable Google or password sign-in respectively.
type AuthenticatorConfig struct {
	Issuer      *Issuer
	Verifier    TokenVerifier
	Accounts    *Accounts
	AdminEmails []string
	Logger      *logging.Logger
}

func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	if cfg.Issuer == nil {
		panic("session: issuer required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	admins := make(map[string]struct{}, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if e := normalizeEmail(email); e != "" {
			admins[e] = struct{}{}
		}
	}
	return &Authenticator{
		issuer:   cfg.Issuer,
		verifier: cfg.Verifier,
		accounts: cfg.Accounts,
		admins:   admins,
		logger:   cfg.Logger,
	}
}

// SignInWithGoogle verifies a Google ID token.
func (a *Authenticator) SignInWithGoogle(ctx context.Context, idToken string) (*Identity, string, error) {
	if a.verifier == nil {
		return nil, "", ErrGoogleDisabled
	}
	id, err := a.verifier.Verify(ctx, idToken)
	if err != nil {
		a.logger.Warn("google sign-in failed", "error", err)
		return nil, "", err
	}
	return a.finish(id)
}

// SignUp registers a password account and signs it in.
func (a *Authenticator) SignUp(ctx context.Context, email, password, name string) (*Identity, string, error) {
	if a.accounts == nil {
		return nil, "", errors.New("session: password accounts disabled")
	}
	id, err := a.accounts.SignUp(ctx, email, password, name)
	if err != nil {
		return nil, "", err
	}
	return a.finish(id)
}

// Login signs in a password account.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*Identity, string, error) {
	if a.accounts == nil {
		return nil, "", ErrInvalidCredentials
	}
	id, err := a.accounts.Login(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	return a.finish(id)
}

// Authenticate resolves a session token.
func (a *Authenticator) Authenticate(token string) (*Identity, error) {
	return a.issuer.Parse(token)
}

func (a *Authenticator) finish(id *Identity) (*Identity, string, error) {
	id.Roles = a.rolesFor(id)
	token, err := a.issuer.Mint(id)
	if err != nil {
		return nil, "", err
	}
	a.logger.ForUser(id.UID).Info("signed in", "admin", id.IsAdmin())
	return id, token, nil
}

func (a *Authenticator) rolesFor(id *Identity) []string {
	if !id.EmailVerified {
		return nil
	}
	if _, ok := a.admins[normalizeEmail(id.Email)]; ok {
		return []string{RoleAdmin}
	}
	return nil
}
