package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	allowed := "https://portal.example.com/hub"

	tests := []struct {
		name          string
		origin        string
		isDevelopment bool
		want          bool
	}{
		// Always allowed
		{"empty origin", "", false, true},
		{"same host", "http://matlab.internal:8888", false, true},
		{"configured origin", "https://portal.example.com", false, true},

		// Rejected outside development
		{"different host", "https://evil.com", false, false},
		{"different port", "http://matlab.internal:9999", false, false},
		{"configured host wrong scheme", "http://portal.example.com", false, false},
		{"localhost prod rejected", "http://localhost:3000", false, false},

		// Localhost in development
		{"localhost dev", "http://localhost:3000", true, true},
		{"127.0.0.1 dev", "http://127.0.0.1:3000", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := newCheckOrigin(allowed, tt.isDevelopment)

			req := httptest.NewRequest(http.MethodGet, "http://matlab.internal:8888/ws/overlay", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, check(req))
		})
	}
}

func TestNewCheckOrigin_NoConfiguredOrigin(t *testing.T) {
	check := newCheckOrigin("", false)

	req := httptest.NewRequest(http.MethodGet, "http://matlab.internal:8888/ws/overlay", nil)
	req.Header.Set("Origin", "https://portal.example.com")

	assert.False(t, check(req))
}

func TestExtractOrigin(t *testing.T) {
	assert.Equal(t, "https://portal.example.com", extractOrigin("https://portal.example.com/a/b?c=d"))
	assert.Equal(t, "", extractOrigin(""))
	assert.Equal(t, "", extractOrigin("not a url"))
}
