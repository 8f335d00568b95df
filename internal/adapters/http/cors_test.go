package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stratumgis/stratum/internal/config"
)

func TestOriginHost(t *testing.T) {
	tests := []struct {
		origin   string
		expected string
	}{
		{"https://example.com", "example.com"},
		{"https://example.com:8080", "example.com"},
		{"https://example.com:443/tiles", "example.com"},
		{"http://localhost:3000", "localhost"},
		{"http://192.168.1.1:8080", "192.168.1.1"},
		{"https://deep.sub.example.com", "deep.sub.example.com"},
		{"example.com", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := originHost(tt.origin); got != tt.expected {
				t.Errorf("originHost(%q) = %q; want %q", tt.origin, got, tt.expected)
			}
		})
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		name     string
		origin   string
		pattern  string
		expected bool
	}{
		{"exact match", "https://example.com", "https://example.com", true},
		{"exact match with port", "https://example.com:8080", "https://example.com:8080", true},
		{"different scheme", "http://example.com", "https://example.com", false},
		{"different port", "https://example.com:8080", "https://example.com:9090", false},
		{"wildcard matches subdomain", "https://sub.example.com", "*.example.com", true},
		{"wildcard matches deep subdomain", "https://deep.sub.example.com", "*.example.com", true},
		{"wildcard skips bare domain", "https://example.com", "*.example.com", false},
		{"wildcard skips partial match", "https://notexample.com", "*.example.com", false},
		{"wildcard skips other domain", "https://sub.other.com", "*.example.com", false},
		{"empty origin", "", "https://example.com", false},
		{"empty pattern", "https://example.com", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchOrigin(tt.origin, tt.pattern); got != tt.expected {
				t.Errorf("matchOrigin(%q, %q) = %v; want %v", tt.origin, tt.pattern, got, tt.expected)
			}
		})
	}
}

func corsServer(origins []string) *Server {
	return &Server{
		config: config.ServerConfig{
			CORS: config.CORSConfig{AllowedOrigins: origins},
		},
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		origins       []string
		requestOrigin string
		wantOrigin    string
	}{
		{
			name:          "allowed origin gets headers",
			origins:       []string{"https://example.com"},
			requestOrigin: "https://example.com",
			wantOrigin:    "https://example.com",
		},
		{
			name:          "wildcard origin gets headers",
			origins:       []string{"*.example.com"},
			requestOrigin: "https://app.example.com",
			wantOrigin:    "https://app.example.com",
		},
		{
			name:          "disallowed origin gets none",
			origins:       []string{"https://example.com"},
			requestOrigin: "https://evil.com",
		},
		{
			name:    "no origin header gets none",
			origins: []string{"https://example.com"},
		},
		{
			name:          "empty allow list gets none",
			origins:       nil,
			requestOrigin: "https://example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := corsServer(tt.origins).corsMiddleware(
				http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
			)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/layers", nil)
			if tt.requestOrigin != "" {
				req.Header.Set("Origin", tt.requestOrigin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q; want %q", got, tt.wantOrigin)
			}
			if tt.wantOrigin != "" {
				if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
					t.Errorf("Access-Control-Allow-Methods = %q; want %q", got, "GET, OPTIONS")
				}
				if got := rr.Header().Get("Vary"); got != "Origin" {
					t.Errorf("Vary = %q; want %q", got, "Origin")
				}
			}
		})
	}
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	nextCalled := false
	handler := corsServer([]string{"https://example.com"}).corsMiddleware(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			nextCalled = true
			w.WriteHeader(http.StatusOK)
		}),
	)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/layers", nil)
	req.Header.Set("Origin", "https://example.com")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if nextCalled {
		t.Error("preflight request should not reach the next handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNoContent)
	}
}
