// Package session wraps the identity provider behind an explicitly
// constructed bridge. Callers inject a Provider, subscribe to auth
// state changes, and read the current session through the bridge
// instead of sharing a global client.
package session

import (
	"context"
	"errors"
	"time"

	"revintel/pkg/domain"
)

// AuthEvent identifies a change in authentication state.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// Session is the bridge's view of an authenticated user.
type Session struct {
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresAt    time.Time   `json:"expiresAt"`
	User         domain.User `json:"user"`
}

// ErrNoSession is returned when an operation needs a signed-in user
// and none is present.
var ErrNoSession = errors.New("no active session")

// Provider is the identity service the bridge talks to.
type Provider interface {
	// SignInWithOTP requests a one-time code be sent to the email.
	SignInWithOTP(ctx context.Context, email string) error
	// VerifyOTP exchanges the emailed code for a session.
	VerifyOTP(ctx context.Context, email, code string) (*Session, error)
	// Refresh exchanges a refresh token for a new session.
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	// SignOut revokes the session server-side.
	SignOut(ctx context.Context, accessToken string) error
	// Me fetches the current user profile for the token.
	Me(ctx context.Context, accessToken string) (*domain.User, error)
}

// RedirectTarget is where the app should send a user after sign-in.
type RedirectTarget string

const (
	RedirectOnboarding RedirectTarget = "/onboarding"
	RedirectDashboard  RedirectTarget = "/dashboard"
)
