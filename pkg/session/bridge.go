package session

import (
	"context"
	"sync"
)

// Listener receives auth state changes. The session is nil for
// EventSignedOut and for EventInitialSession when nobody is signed in.
type Listener func(event AuthEvent, s *Session)

// Bridge owns the current session and fans auth events out to
// subscribers. It is safe for concurrent use.
type Bridge struct {
	provider Provider

	mu        sync.Mutex
	current   *Session
	listeners map[int]Listener
	nextID    int
	closed    bool
}

// NewBridge wraps the provider. The initial session, if any, should be
// installed with Restore before subscribers attach.
func NewBridge(provider Provider) *Bridge {
	return &Bridge{
		provider:  provider,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener and immediately delivers the current
// state as EventInitialSession. The returned function unsubscribes.
func (b *Bridge) Subscribe(fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	current := b.current
	b.mu.Unlock()

	fn(EventInitialSession, current)

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Session returns the current session, or nil when signed out.
func (b *Bridge) Session() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// AccessToken returns the current bearer token, or ErrNoSession.
func (b *Bridge) AccessToken() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || b.current.AccessToken == "" {
		return "", ErrNoSession
	}
	return b.current.AccessToken, nil
}

// Restore installs a previously persisted session without emitting
// SIGNED_IN; later subscribers see it via INITIAL_SESSION.
func (b *Bridge) Restore(s *Session) {
	b.mu.Lock()
	b.current = s
	b.mu.Unlock()
}

// SignInWithOTP asks the provider to email a one-time code.
func (b *Bridge) SignInWithOTP(ctx context.Context, email string) error {
	return b.provider.SignInWithOTP(ctx, email)
}

// VerifyOTP completes the OTP flow, installs the session, and emits
// SIGNED_IN.
func (b *Bridge) VerifyOTP(ctx context.Context, email, code string) (*Session, error) {
	s, err := b.provider.VerifyOTP(ctx, email, code)
	if err != nil {
		return nil, err
	}
	b.setSession(s, EventSignedIn)
	return s, nil
}

// Refresh rotates the current session's tokens and emits TOKEN_REFRESHED.
func (b *Bridge) Refresh(ctx context.Context) (*Session, error) {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoSession
	}
	s, err := b.provider.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}
	b.setSession(s, EventTokenRefreshed)
	return s, nil
}

// SignOut revokes the session server-side, clears local state, and
// emits SIGNED_OUT. Local state is cleared even if revocation fails.
func (b *Bridge) SignOut(ctx context.Context) error {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()

	var err error
	if current != nil && current.AccessToken != "" {
		err = b.provider.SignOut(ctx, current.AccessToken)
	}
	b.setSession(nil, EventSignedOut)
	return err
}

// RedirectAfterSignIn decides the post-auth destination from the
// user's onboarding flag. Without a session the answer is onboarding.
func (b *Bridge) RedirectAfterSignIn() RedirectTarget {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil || !b.current.User.OnboardingComplete {
		return RedirectOnboarding
	}
	return RedirectDashboard
}

// Close drops all subscribers. Further events are not delivered.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.listeners = make(map[int]Listener)
	b.mu.Unlock()
}

func (b *Bridge) setSession(s *Session, event AuthEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.current = s
	fns := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(event, s)
	}
}
