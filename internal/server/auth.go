package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("server: unauthenticated")

// Authenticator resolves the identity of an HTTP request before it is
// upgraded, so a chat session never negotiates its username over the socket.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator verifies HS256 bearer tokens signed with secret. An empty
// secret switches to development mode, where the ?user= query parameter is
// trusted as is.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// DevMode reports whether identities are taken from the query string.
func (a *Authenticator) DevMode() bool { return len(a.secret) == 0 }

// Identify returns the username the request is authenticated as. Tokens are
// read from the Authorization header ("Bearer <token>") or, for browser
// WebSocket clients that cannot set headers, from the token query parameter.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	user, err := a.identify(r)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(user) {
		return "", fmt.Errorf("%w: username is not valid UTF-8", ErrUnauthenticated)
	}
	return user, nil
}

func (a *Authenticator) identify(r *http.Request) (string, error) {
	if a.DevMode() {
		user := strings.TrimSpace(r.URL.Query().Get("user"))
		if user == "" {
			return "", fmt.Errorf("%w: missing user parameter", ErrUnauthenticated)
		}
		return user, nil
	}

	tokenStr := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if tokenStr == "" {
		tokenStr = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if tokenStr == "" {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	return a.username(tokenStr)
}

func (a *Authenticator) username(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if user, _ := claims["username"].(string); user != "" {
		return user, nil
	}
	if sub, _ := claims.GetSubject(); sub != "" {
		return sub, nil
	}
	return "", fmt.Errorf("%w: token has no username", ErrUnauthenticated)
}

// Issue signs a token for user that expires after ttl. It is used by the
// server's --issue-token flag for local testing; production tokens come from
// the identity provider that shares the secret.
func (a *Authenticator) Issue(user string, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("server: cannot issue tokens without a secret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":      user,
		"username": user,
		"iat":      now.Unix(),
		"exp":      now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
