package session

import (
	"context"
	"sync"
)

// Listener is told about every identity transition. nil means signed out.
type Listener func(*Identity)

// Provider holds the identity of one app-shell connection. Loading is true
// until the first identity resolution (Restore, a sign-in, or Logout).
// Listeners run synchronously on the goroutine that caused the transition,
// so per-user state is already cleared when Logout returns.
type Provider struct {
	auth *Authenticator

	mu        sync.Mutex
	current   *Identity
	token     string
	loading   bool
	closed    bool
	listeners map[int]Listener
	nextID    int
}

func NewProvider(auth *Authenticator) *Provider {
	if auth == nil {
		panic("session: authenticator required")
	}
	return &Provider{auth: auth, loading: true, listeners: make(map[int]Listener)}
}

// CurrentUser returns the signed-in identity or nil.
func (p *Provider) CurrentUser() *Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Token returns the session token of the current identity.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

func (p *Provider) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// Restore resolves a previously issued session token. An empty or invalid
// token resolves to signed out.
func (p *Provider) Restore(token string) error {
	if token == "" {
		p.set(nil, "")
		return nil
	}
	id, err := p.auth.Authenticate(token)
	if err != nil {
		p.set(nil, "")
		return err
	}
	p.set(id, token)
	return nil
}

// SignInWithGoogle signs in with a Google ID token. Failures leave the
// current identity untouched and are not retried.
func (p *Provider) SignInWithGoogle(ctx context.Context, idToken string) (*Identity, error) {
	id, token, err := p.auth.SignInWithGoogle(ctx, idToken)
	if err != nil {
		return nil, err
	}
	if !p.set(id, token) {
		return nil, ErrProviderClosed
	}
	return id, nil
}

func (p *Provider) SignUp(ctx context.Context, email, password, name string) (*Identity, error) {
	id, token, err := p.auth.SignUp(ctx, email, password, name)
	if err != nil {
		return nil, err
	}
	if !p.set(id, token) {
		return nil, ErrProviderClosed
	}
	return id, nil
}

func (p *Provider) Login(ctx context.Context, email, password string) (*Identity, error) {
	id, token, err := p.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !p.set(id, token) {
		return nil, ErrProviderClosed
	}
	return id, nil
}

// Logout clears the identity.
func (p *Provider) Logout() {
	p.set(nil, "")
}

// Watch registers a listener and immediately reports the current identity
// unless the provider is still loading.
func (p *Provider) Watch(l Listener) (unregister func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return func() {}
	}
	p.nextID++
	id := p.nextID
	p.listeners[id] = l
	loading, current := p.loading, p.current
	p.mu.Unlock()

	if !loading {
		l(current)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Close drops all listeners. Later transitions are ignored.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.listeners = map[int]Listener{}
}

func (p *Provider) set(id *Identity, token string) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.current = id
	p.token = token
	p.loading = false
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(id)
	}
	return true
}
