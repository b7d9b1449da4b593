package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/chapterhub/internal/gateway"
	"github.com/diagnosis/chapterhub/internal/session"
)

func signedToken(t *testing.T, claims session.Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("any-secret"))
	require.NoError(t, err)
	return tok
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := session.NewFileStore(filepath.Join(t.TempDir(), "nested", "session.json"))

	token, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, store.Save(ctx, "tok-1"))
	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))
	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestSession_UserFromClaims(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	s := session.New(store)

	_, err := s.User(ctx)
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.False(t, s.Authenticated(ctx))

	tok := signedToken(t, session.Claims{
		UserID: "u1",
		Name:   "Asha Rao",
		Email:  "asha@example.com",
		Phone:  "+919900000000",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, store.Save(ctx, tok))

	u, err := s.User(ctx)
	require.NoError(t, err)
	assert.True(t, s.Authenticated(ctx))
	assert.Equal(t, "Asha Rao", u.Name)
	assert.Equal(t, "asha@example.com", u.Email)
	assert.Equal(t, "+919900000000", u.Phone)
}

func TestSession_OpaqueTokenHasEmptyProfile(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Save(ctx, "not-a-jwt"))

	u, err := session.New(store).User(ctx)
	require.NoError(t, err)
	assert.Empty(t, u.Email)
}

func TestSession_LoginStoresTokenAndProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "asha@example.com", body["email"])
		w.Write([]byte(`{"success":true,"token":"opaque-token","user":{"id":"u1","name":"Asha","email":"asha@example.com","phone":"123"}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := session.NewMemoryStore()
	s := session.New(store)

	u, err := s.Login(ctx, gateway.New(srv.URL, 0, s), "  Asha@Example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Asha", u.Name)

	tok, _ := store.Load(ctx)
	assert.Equal(t, "opaque-token", tok)

	require.NoError(t, s.Logout(ctx))
	assert.False(t, s.Authenticated(ctx))
}

func TestSession_LoginFailureKeepsStoreEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"success":false,"message":"Invalid credentials"}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	s := session.New(session.NewMemoryStore())

	_, err := s.Login(ctx, gateway.New(srv.URL, 0, s), "asha@example.com", "wrong")
	assert.Equal(t, "Invalid credentials", gateway.Message(err, ""))
	assert.False(t, s.Authenticated(ctx))

	_, err = s.Login(ctx, gateway.New(srv.URL, 0, s), "", "")
	assert.ErrorIs(t, err, session.ErrInvalidLogin)
}

func TestLoginRedirect(t *testing.T) {
	assert.Equal(t, "/login?redirect=%2Fcheckin%3Ftoken%3Dabc123", session.LoginRedirect("/checkin?token=abc123"))
	assert.Equal(t, "/login?redirect=%2F", session.LoginRedirect(""))
}
