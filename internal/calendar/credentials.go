package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotAuthorized means the user has not connected Google Calendar.
	ErrNotAuthorized = errors.New("calendar: not authorized")
	// ErrInvalidState is returned for unknown, expired or reused OAuth states.
	ErrInvalidState = errors.New("calendar: invalid or expired oauth state")
)

const defaultStateTTL = 10 * time.Minute

// Credentials are the Google OAuth credentials kept per user.
type Credentials struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`
}

// CredentialStore caches credentials by user and tracks one-time OAuth
// states.
type CredentialStore interface {
	Save(ctx context.Context, uid string, creds Credentials) error
	Load(ctx context.Context, uid string) (*Credentials, error)
	Revoke(ctx context.Context, uid string) error
	// NewState binds a fresh state value to uid for ttl.
	NewState(ctx context.Context, uid, state string, ttl time.Duration) error
	// ConsumeState returns the uid bound to state and forgets the state.
	ConsumeState(ctx context.Context, state string) (string, error)
}

func credentialKey(uid string) string { return "googleCalendar_" + uid }

func stateKey(state string) string { return "googleCalendar_state:" + state }

// RedisCredentialStore keeps credentials under googleCalendar_{uid}.
type RedisCredentialStore struct {
	client *redis.Client
	tracer trace.Tracer
}

func NewRedisCredentialStore(client *redis.Client) *RedisCredentialStore {
	if client == nil {
		panic("calendar: redis client cannot be nil")
	}
	return &RedisCredentialStore{client: client, tracer: otel.Tracer("mediguard.internal.calendar.credentials")}
}

func (s *RedisCredentialStore) Save(ctx context.Context, uid string, creds Credentials) error {
	ctx, span := s.tracer.Start(ctx, "calendar.credentials.save", trace.WithAttributes(attribute.String("user_id", uid)))
	defer span.End()

	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("calendar: marshal credentials: %w", err)
	}
	if err := s.client.Set(ctx, credentialKey(uid), raw, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("calendar: save credentials: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) Load(ctx context.Context, uid string) (*Credentials, error) {
	ctx, span := s.tracer.Start(ctx, "calendar.credentials.load", trace.WithAttributes(attribute.String("user_id", uid)))
	defer span.End()

	raw, err := s.client.Get(ctx, credentialKey(uid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotAuthorized
		}
		span.RecordError(err)
		return nil, fmt.Errorf("calendar: load credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return nil, fmt.Errorf("calendar: decode credentials: %w", err)
	}
	return &creds, nil
}

func (s *RedisCredentialStore) Revoke(ctx context.Context, uid string) error {
	if err := s.client.Del(ctx, credentialKey(uid)).Err(); err != nil {
		return fmt.Errorf("calendar: revoke credentials: %w", err)
	}
	return nil
}

func (s *RedisCredentialStore) NewState(ctx context.Context, uid, state string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	ok, err := s.client.SetNX(ctx, stateKey(state), uid, ttl).Result()
	if err != nil {
		return fmt.Errorf("calendar: save oauth state: %w", err)
	}
	if !ok {
		return fmt.Errorf("calendar: oauth state collision")
	}
	return nil
}

func (s *RedisCredentialStore) ConsumeState(ctx context.Context, state string) (string, error) {
	uid, err := s.client.GetDel(ctx, stateKey(state)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrInvalidState
		}
		return "", fmt.Errorf("calendar: consume oauth state: %w", err)
	}
	return uid, nil
}

// MemoryCredentialStore is used when Redis is not configured.
type MemoryCredentialStore struct {
	mu     sync.Mutex
	creds  map[string]Credentials
	states map[string]memoryState
	now    func() time.Time
}

type memoryState struct {
	uid     string
	expires time.Time
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		creds:  make(map[string]Credentials),
		states: make(map[string]memoryState),
		now:    time.Now,
	}
}

func (s *MemoryCredentialStore) Save(_ context.Context, uid string, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[uid] = creds
	return nil
}

func (s *MemoryCredentialStore) Load(_ context.Context, uid string) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.creds[uid]
	if !ok {
		return nil, ErrNotAuthorized
	}
	return &creds, nil
}

func (s *MemoryCredentialStore) Revoke(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, uid)
	return nil
}

func (s *MemoryCredentialStore) NewState(_ context.Context, uid, state string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.states[state]; exists {
		return fmt.Errorf("calendar: oauth state collision")
	}
	s.states[state] = memoryState{uid: uid, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryCredentialStore) ConsumeState(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	delete(s.states, state)
	if !ok || s.now().After(st.expires) {
		return "", ErrInvalidState
	}
	return st.uid, nil
}
