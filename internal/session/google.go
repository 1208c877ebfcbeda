package session

import (
	"context"
	"fmt"

	"google.golang.org/api/idtoken"
)

// TokenVerifier turns a third-party ID token into an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, idToken string) (*Identity, error)
}

// GoogleVerifier validates Google ID tokens for one OAuth client.
type GoogleVerifier struct {
	clientID string
	validate func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

// NewGoogleVerifier returns nil when clientID is empty, which disables
// Google sign-in.
func NewGoogleVerifier(clientID string) *GoogleVerifier {
	if clientID == "" {
		return nil
	}
	return &GoogleVerifier{clientID: clientID, validate: idtoken.Validate}
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*Identity, error) {
	if v == nil {
		return nil, ErrGoogleDisabled
	}
	payload, err := v.validate(ctx, idToken, v.clientID)
	if err != nil {
		return nil, fmt.Errorf("session: validate google id token: %w", err)
	}
	email, _ := payload.Claims["email"].(string)
	name, _ := payload.Claims["name"].(string)
	picture, _ := payload.Claims["picture"].(string)
	return &Identity{
		UID:           payload.Subject,
		DisplayName:   name,
		Email:         normalizeEmail(email),
		PhotoURL:      picture,
		EmailVerified: email != "" && claimTrue(payload.Claims["email_verified"]),
	}, nil
}

// claimTrue accepts both encodings Google uses for boolean claims.
func claimTrue(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}
