// Package credential owns the client's bearer credential: it hands out a valid access
// token to every outbound call and coalesces refreshes when the token expires.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSkew is how long before ExpiresAt a credential stops being handed out.
const DefaultSkew = 30 * time.Second

var (
	// ErrUnauthenticated means no usable session exists and the user must sign in again.
	ErrUnauthenticated = errors.New("unauthenticated: please sign in again")

	// ErrRefreshRejected is returned by an Auth collaborator when the server refused the
	// refresh token. It is terminal for the current session.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// Credential is a bearer access/refresh token pair.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ValidAt reports whether the access token can still be used at now.
// A credential with an unknown expiry is trusted until the server rejects it.
func (c Credential) ValidAt(now time.Time, skew time.Duration) bool {
	if c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(c.ExpiresAt.Add(-skew))
}

// Auth is the session collaborator the store depends on.
type Auth interface {
	// Session returns the current session, or nil when nobody is signed in.
	Session(ctx context.Context) (*Credential, error)
	Refresh(ctx context.Context) (*Credential, error)
	// OnAuthStateChange registers fn for sign-in, refresh and sign-out (nil) events.
	OnAuthStateChange(fn func(*Credential)) (unsubscribe func())
}

// ExpiryFromToken reads the exp claim of a JWT access token without verifying it.
func ExpiryFromToken(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
