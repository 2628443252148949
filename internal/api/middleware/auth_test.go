package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wardline/authcore/internal/auth"
	"github.com/wardline/authcore/internal/cache"
	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/session"
)

type noopBlacklist struct{}

func (noopBlacklist) IsRevoked(string) bool        { return false }
func (noopBlacklist) Revoke(string, time.Time) {}

func newTestAuthDeps(t *testing.T) (*auth.JWTProvider, *session.Store, *cache.FastSessionStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fast := cache.NewFastSessionStore(client)
	store := session.New(nil, fast, time.Hour)

	tokens, err := auth.NewJWTProvider(
		"access-secret-0123456789012345678901234567",
		"refresh-secret-0123456789012345678901234567",
		"special-secret-012345678901234567890123456",
		"authcore-test", "authcore-clients-test", noopBlacklist{},
	)
	require.NoError(t, err)

	return tokens, store, fast
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	tokens, store, _ := newTestAuthDeps(t)
	handler := Authenticate(tokens, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_MalformedHeader(t *testing.T) {
	tokens, store, _ := newTestAuthDeps(t)
	handler := Authenticate(tokens, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	tokens, store, _ := newTestAuthDeps(t)
	handler := Authenticate(tokens, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_ValidTokenNoSession(t *testing.T) {
	tokens, store, _ := newTestAuthDeps(t)
	userID := uuid.New()
	access, _, _, _, err := tokens.CreatePair(userID, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	handler := Authenticate(tokens, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next handler must not run when session is untracked")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_ValidTokenActiveSession(t *testing.T) {
	tokens, store, fast := newTestAuthDeps(t)
	userID := uuid.New()
	sessionID := uuid.New()
	access, _, _, _, err := tokens.CreatePair(userID, time.Hour, 24*time.Hour)
	require.NoError(t, err)

	fp := auth.Fingerprint(access)
	require.NoError(t, fast.Put(context.Background(), fp, &domain.FastSession{
		SessionID: sessionID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
		Active:    true,
	}, time.Hour))

	var sawUserID uuid.UUID
	handler := Authenticate(tokens, store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := GetUserID(r.Context())
		require.NoError(t, err)
		sawUserID = id
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, userID, sawUserID)
}
