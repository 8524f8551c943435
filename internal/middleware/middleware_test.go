package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthMiddleware_DisabledWithoutPassword(t *testing.T) {
	h := AuthMiddleware("")(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/inspections", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 without a password, got %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := AuthMiddleware("secret")(okHandler)

	tests := []struct {
		name   string
		path   string
		cookie string
		want   int
	}{
		{"login page is public", "/login", "", http.StatusOK},
		{"css is public", "/css/site.css", "", http.StatusOK},
		{"api without cookie", "/api/inspections", "", http.StatusUnauthorized},
		{"stream without cookie", "/video_feed", "", http.StatusUnauthorized},
		{"page without cookie redirects", "/history", "", http.StatusSeeOther},
		{"old style cookie rejected", "/api/inspections", "true", http.StatusUnauthorized},
		{"valid cookie", "/api/inspections", AuthToken("secret"), http.StatusOK},
		{"cookie for another password", "/api/inspections", AuthToken("other"), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: AuthCookie, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, err := uuid.Parse(seen); err != nil {
		t.Fatalf("Expected generated UUID, got %q", seen)
	}
	if rec.Header().Get(RequestIDHeader) != seen {
		t.Errorf("Response header %q does not match context %q", rec.Header().Get(RequestIDHeader), seen)
	}

	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, incoming)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != incoming {
		t.Errorf("Expected incoming ID %q to be kept, got %q", incoming, seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "not-a-uuid" {
		t.Error("Expected an invalid incoming ID to be replaced")
	}
}
