package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthenticatorIssueAndIdentify(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token, err := a.Issue("alice", time.Minute)
	require.NoError(t, err)

	t.Run("bearer header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		user, err := a.Identify(r)
		require.NoError(t, err)
		assert.Equal(t, "alice", user)
	})

	t.Run("query parameter", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
		user, err := a.Identify(r)
		require.NoError(t, err)
		assert.Equal(t, "alice", user)
	})

	t.Run("user parameter is ignored outside dev mode", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/ws?user=mallory", nil)
		_, err := a.Identify(r)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestAuthenticatorRejects(t *testing.T) {
	a := NewAuthenticator(testSecret)
	exp := time.Now().Add(time.Minute).Unix()

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"username": "alice", "exp": exp})},
		{"expired", signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"username": "alice", "exp": time.Now().Add(-time.Minute).Unix()})},
		{"wrong algorithm", signToken(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{"username": "alice", "exp": exp})},
		{"no identity claim", signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp})},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Header.Set("Authorization", "Bearer "+tt.token)
			_, err := a.Identify(r)
			assert.True(t, errors.Is(err, ErrUnauthenticated), "got %v", err)
		})
	}

	t.Run("missing token", func(t *testing.T) {
		_, err := a.Identify(httptest.NewRequest(http.MethodGet, "/ws", nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestAuthenticatorSubjectFallback(t *testing.T) {
	a := NewAuthenticator(testSecret)
	token := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob", "exp": time.Now().Add(time.Minute).Unix()})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	user, err := a.Identify(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestAuthenticatorDevMode(t *testing.T) {
	a := NewAuthenticator("")
	assert.True(t, a.DevMode())

	user, err := a.Identify(httptest.NewRequest(http.MethodGet, "/ws?user=carol", nil))
	require.NoError(t, err)
	assert.Equal(t, "carol", user)

	_, err = a.Identify(httptest.NewRequest(http.MethodGet, "/ws?user=%20", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = a.Issue("carol", time.Minute)
	assert.Error(t, err)
}

func TestAuthenticatorRejectsInvalidUTF8(t *testing.T) {
	a := NewAuthenticator("")

	_, err := a.Identify(httptest.NewRequest(http.MethodGet, "/ws?user=al%FFice", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	user, err := a.Identify(httptest.NewRequest(http.MethodGet, "/ws?user=zo%C3%AB", nil))
	require.NoError(t, err)
	assert.Equal(t, "zoë", user)
}
