package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func requestWithOrigin(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"exact match", []string{"http://localhost:8080"}, "http://localhost:8080", true},
		{"case insensitive", []string{"HTTP://LocalHost:8080"}, "http://localhost:8080", true},
		{"path ignored", []string{"https://chat.example/app"}, "https://chat.example", true},
		{"different port", []string{"http://localhost:8080"}, "http://localhost:9090", false},
		{"different scheme", []string{"http://chat.example"}, "https://chat.example", false},
		{"missing header", []string{"http://localhost:8080"}, "", false},
		{"malformed header", []string{"http://localhost:8080"}, "localhost", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
		{"wildcard still needs a header", []string{"*"}, "", false},
		{"invalid config entries skipped", []string{"not an origin", " ", "http://ok.example"}, "http://ok.example", true},
		{"empty list", nil, "http://localhost:8080", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed)
			assert.Equal(t, tt.want, p.checkOrigin(requestWithOrigin(tt.origin)))
		})
	}
}
