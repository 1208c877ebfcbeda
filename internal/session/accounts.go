package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mediguard/mediguard-platform/internal/docstore"
)

const (
	accountsCollection = "accounts"
	minPasswordLength  = 6
)

// account is the stored password credential, keyed by lowercased email.
type account struct {
	UID          string    `json:"uid"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Accounts stores email/password credentials in the document store.
type Accounts struct {
	store docstore.Store
	cost  int
	// serializes sign-ups so the existence check and write are atomic
	// within this process
	mu sync.Mutex
}

// NewAccounts returns a password account store.
func NewAccounts(store docstore.Store) *Accounts {
	if store == nil {
		panic("session: document store required")
	}
	return &Accounts{store: store, cost: bcrypt.DefaultCost}
}

func accountPath(email string) string {
	return docstore.Join(accountsCollection, email)
}

func validEmail(email string) bool {
	if email == "" || strings.Contains(email, "/") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// SignUp creates an account and returns its identity.
func (a *Accounts) SignUp(ctx context.Context, email, password, displayName string) (*Identity, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.store.Get(ctx, accountPath(email))
	switch {
	case err == nil:
		return nil, ErrEmailInUse
	case !errors.Is(err, docstore.ErrNotFound):
		return nil, fmt.Errorf("session: lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return nil, fmt.Errorf("session: hash password: %w", err)
	}
	acct := account{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	data, err := docstore.Encode(acct)
	if err != nil {
		return nil, err
	}
	if _, err := a.store.Set(ctx, accountPath(email), data, false); err != nil {
		return nil, fmt.Errorf("session: save account: %w", err)
	}
	return &Identity{UID: acct.UID, DisplayName: acct.DisplayName, Email: acct.Email}, nil
}

// Login checks a password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (a *Accounts) Login(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return nil, ErrInvalidCredentials
	}
	doc, err := a.store.Get(ctx, accountPath(email))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("session: lookup account: %w", err)
	}
	var acct account
	if err := docstore.Decode(doc, &acct); err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Identity{UID: acct.UID, DisplayName: acct.DisplayName, Email: acct.Email}, nil
}
