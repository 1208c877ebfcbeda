package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/api/idtoken"

	"github.com/mediguard/mediguard-platform/internal/docstore"
	"github.com/mediguard/mediguard-platform/pkg/logging"
)

type stubVerifier struct {
	id  *Identity
	err error
}

func (s stubVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.id
	return &cp, nil
}

func newTestAuthenticator(t *testing.T, verifier TokenVerifier, admins ...string) *Authenticator {
	t.Helper()
	issuer, err := NewIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	accounts := NewAccounts(docstore.NewMemoryStore())
	accounts.cost = bcrypt.MinCost
	return NewAuthenticator(AuthenticatorConfig{
		Issuer:      issuer,
		Verifier:    verifier,
		Accounts:    accounts,
		AdminEmails: admins,
		Logger:      logging.Discard(),
	})
}

func TestIssuerRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Mint(&Identity{UID: "u1", DisplayName: "Asha Rao", Email: "asha@example.com", Roles: []string{RoleAdmin}})
	require.NoError(t, err)

	id, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UID)
	assert.Equal(t, "Asha", id.FirstName())
	assert.True(t, id.IsAdmin())

	other, err := NewIssuer("other", time.Hour)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuerRejectsExpired(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Minute)
	require.NoError(t, err)
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := issuer.Mint(&Identity{UID: "u1"})
	require.NoError(t, err)
	issuer.now = time.Now
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	assert.Error(t, err)
}

func TestAccountsSignUpAndLogin(t *testing.T) {
	auth := newTestAuthenticator(t, nil)
	ctx := context.Background()

	id, token, err := auth.SignUp(ctx, " Asha@Example.com ", "secret1", "Asha")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "asha@example.com", id.Email)

	_, _, err = auth.SignUp(ctx, "asha@example.com", "another1", "Dup")
	assert.ErrorIs(t, err, ErrEmailInUse)
	assert.Equal(t, "This email is already registered.", UserMessage(err))

	_, _, err = auth.SignUp(ctx, "new@example.com", "123", "Short")
	assert.ErrorIs(t, err, ErrWeakPassword)
	assert.Equal(t, "Password should be at least 6 characters.", UserMessage(err))

	_, _, err = auth.SignUp(ctx, "not-an-email", "secret1", "Bad")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	logged, _, err := auth.Login(ctx, "asha@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, id.UID, logged.UID)

	_, _, err = auth.Login(ctx, "asha@example.com", "wrong-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = auth.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "Invalid email or password.", UserMessage(err))
}

func TestAuthenticatorAssignsAdminRoleFromConfig(t *testing.T) {
	verifier := stubVerifier{id: &Identity{UID: "g-1", Email: "admin@example.com", DisplayName: "Admin", EmailVerified: true}}
	auth := newTestAuthenticator(t, verifier, "ADMIN@example.com")

	id, token, err := auth.SignInWithGoogle(context.Background(), "id-token")
	require.NoError(t, err)
	assert.True(t, id.IsAdmin())

	parsed, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.True(t, parsed.IsAdmin())

	plain := newTestAuthenticator(t, verifier)
	id, _, err = plain.SignInWithGoogle(context.Background(), "id-token")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin())
}

func TestAdminRoleNeedsVerifiedEmail(t *testing.T) {
	unverified := stubVerifier{id: &Identity{UID: "g-2", Email: "admin@example.com"}}
	auth := newTestAuthenticator(t, unverified, "admin@example.com")
	ctx := context.Background()

	id, _, err := auth.SignInWithGoogle(ctx, "id-token")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin(), "google account without a verified email")

	id, token, err := auth.SignUp(ctx, "admin@example.com", "secret1", "Not Admin")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin(), "password sign-up for an admin address")
	parsed, err := auth.Authenticate(token)
	require.NoError(t, err)
	assert.Empty(t, parsed.Roles)

	id, _, err = auth.Login(ctx, "admin@example.com", "secret1")
	require.NoError(t, err)
	assert.False(t, id.IsAdmin())
}

func TestAuthenticatorGoogleDisabled(t *testing.T) {
	auth := newTestAuthenticator(t, nil)
	_, _, err := auth.SignInWithGoogle(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrGoogleDisabled)

	var disabled *GoogleVerifier = NewGoogleVerifier("")
	_, err = disabled.Verify(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrGoogleDisabled)
}

func TestGoogleVerifierMapsClaims(t *testing.T) {
	v := NewGoogleVerifier("client-id")
	v.validate = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
		assert.Equal(t, "client-id", audience)
		return &idtoken.Payload{Subject: "sub-1", Claims: map[string]any{
			"email":          "Ravi@Example.com",
			"email_verified": true,
			"name":           "Ravi K",
			"picture":        "https://example.com/p.png",
		}}, nil
	}
	id, err := v.Verify(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, &Identity{UID: "sub-1", DisplayName: "Ravi K", Email: "ravi@example.com", PhotoURL: "https://example.com/p.png", EmailVerified: true}, id)

	for _, claim := range []any{nil, false, "false"} {
		v.validate = func(ctx context.Context, token, audience string) (*idtoken.Payload, error) {
			return &idtoken.Payload{Subject: "sub-1", Claims: map[string]any{"email": "ravi@example.com", "email_verified": claim}}, nil
		}
		id, err := v.Verify(context.Background(), "tok")
		require.NoError(t, err)
		assert.False(t, id.EmailVerified, "email_verified=%v", claim)
	}
}

func TestProviderLifecycle(t *testing.T) {
	verifier := stubVerifier{id: &Identity{UID: "u1", Email: "u1@example.com"}}
	p := NewProvider(newTestAuthenticator(t, verifier))
	assert.True(t, p.Loading())

	var seen []*Identity
	unregister := p.Watch(func(id *Identity) { seen = append(seen, id) })
	assert.Empty(t, seen, "no callback while loading")

	require.NoError(t, p.Restore(""))
	assert.False(t, p.Loading())
	require.Len(t, seen, 1)
	assert.Nil(t, seen[0])

	id, err := p.SignInWithGoogle(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.CurrentUser().UID)
	assert.NotEmpty(t, p.Token())
	require.Len(t, seen, 2)
	assert.Equal(t, id, seen[1])

	p.Logout()
	require.Len(t, seen, 3, "logout notifies before returning")
	assert.Nil(t, seen[2])
	assert.Nil(t, p.CurrentUser())

	unregister()
	unregister()
	_, err = p.SignInWithGoogle(context.Background(), "tok")
	require.NoError(t, err)
	assert.Len(t, seen, 3)
}

func TestProviderSignInFailureKeepsState(t *testing.T) {
	p := NewProvider(newTestAuthenticator(t, stubVerifier{err: errors.New("popup closed")}))
	require.NoError(t, p.Restore(""))
	_, err := p.SignInWithGoogle(context.Background(), "tok")
	assert.Error(t, err)
	assert.Nil(t, p.CurrentUser())
	assert.Equal(t, "An error occurred. Please try again.", UserMessage(err))
}

func TestProviderRestoreAndClose(t *testing.T) {
	auth := newTestAuthenticator(t, nil)
	_, token, err := auth.SignUp(context.Background(), "a@example.com", "secret1", "A")
	require.NoError(t, err)

	p := NewProvider(auth)
	require.NoError(t, p.Restore(token))
	assert.Equal(t, "a@example.com", p.CurrentUser().Email)

	assert.ErrorIs(t, p.Restore("garbage"), ErrInvalidToken)
	assert.Nil(t, p.CurrentUser())

	calls := 0
	p.Watch(func(*Identity) { calls++ })
	assert.Equal(t, 1, calls)
	p.Close()
	p.Logout()
	assert.Equal(t, 1, calls)
	_, err = p.Login(context.Background(), "a@example.com", "secret1")
	assert.ErrorIs(t, err, ErrProviderClosed)
}
