package session

import "errors"

var (
	ErrInvalidCredentials = errors.New("session: invalid email or password")
	ErrEmailInUse         = errors.New("session: email already registered")
	ErrWeakPassword       = errors.New("session: password too short")
	ErrInvalidEmail       = errors.New("session: invalid email")
	ErrInvalidToken       = errors.New("session: invalid session token")
	ErrGoogleDisabled     = errors.New("session: google sign-in not configured")
	ErrProviderClosed     = errors.New("session: provider closed")
)

// UserMessage maps an authentication error to the text shown on the sign-in
// screen.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password."
	case errors.Is(err, ErrEmailInUse):
		return "This email is already registered."
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address."
	default:
		return "An error occurred. Please try again."
	}
}
