package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"scribe-backend/internal/kv"
)

func TestSessionClient_SignInRefreshSignOut(t *testing.T) {
	var refreshStatus = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/auth/login":
			require.Equal(t, "ada@example.com", body["email"])
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "a1", "refresh_token": "r1", "expires_in": 900,
			})
		case "/api/auth/refresh":
			if refreshStatus != http.StatusOK {
				w.WriteHeader(refreshStatus)
				json.NewEncoder(w).Encode(map[string]string{"message": "Invalid refresh token", "error": "Unauthorized"})
				return
			}
			require.Equal(t, "r1", body["refresh_token"])
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "a2", "refresh_token": "r2", "expires_in": 900,
			})
		case "/api/auth/logout":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := kv.NewMemoryStore()
	client := NewSessionClient(srv.URL, store, srv.Client())

	var events []*Credential
	unsubscribe := client.OnAuthStateChange(func(c *Credential) { events = append(events, c) })
	defer unsubscribe()

	ctx := context.Background()
	cred, err := client.SignIn(ctx, "ada@example.com", "secret")
	require.NoError(t, err)
	require.Equal(t, "a1", cred.AccessToken)
	require.WithinDuration(t, time.Now().Add(15*time.Minute), cred.ExpiresAt, 5*time.Second)

	loaded, err := client.Session(ctx)
	require.NoError(t, err)
	require.Equal(t, "r1", loaded.RefreshToken)

	cred, err = client.Refresh(ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", cred.AccessToken)

	require.NoError(t, client.SignOut(ctx))
	loaded, err = client.Session(ctx)
	require.NoError(t, err)
	require.Nil(t, loaded)

	require.Len(t, events, 3)
	require.Nil(t, events[2])
}

func TestSessionClient_RejectedRefreshClearsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), SessionKey, `{"access_token":"a1","refresh_token":"r1"}`))
	client := NewSessionClient(srv.URL, store, srv.Client())

	_, err := client.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshRejected)

	_, ok, _ := store.Get(context.Background(), SessionKey)
	require.False(t, ok)
}

func TestSessionClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), SessionKey, `{"access_token":"a1","refresh_token":"r1"}`))
	client := NewSessionClient(srv.URL, store, srv.Client())

	_, err := client.Refresh(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRefreshRejected)

	_, ok, _ := store.Get(context.Background(), SessionKey)
	require.True(t, ok)
}

func TestExpiryFromToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	got, ok := ExpiryFromToken(token)
	require.True(t, ok)
	require.True(t, exp.Equal(got))

	_, ok = ExpiryFromToken("not-a-jwt")
	require.False(t, ok)
}
