package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// AuthCookie is the name of the session cookie set on login.
const AuthCookie = "authenticated"

// AuthToken derives the cookie value from the configured password, so
// changing the password invalidates existing sessions.
func AuthToken(password string) string {
	sum := sha256.Sum256([]byte("visionpharma-session:" + password))
	return hex.EncodeToString(sum[:])
}

// publicPath reports whether path is reachable without logging in.
func publicPath(path string) bool {
	return path == "/login" ||
		path == "/Login.html" ||
		path == "/auth/login" ||
		strings.HasPrefix(path, "/css/") ||
		strings.HasPrefix(path, "/js/")
}

// AuthMiddleware requires a valid session cookie. An empty password disables
// authentication.
func AuthMiddleware(password string) func(http.Handler) http.Handler {
	token := AuthToken(password)

	return func(next http.Handler) http.Handler {
		if password == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(AuthCookie)
			if err != nil || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(token)) != 1 {
				// API and streaming clients get 401, browsers go to the login page
				if strings.HasPrefix(r.URL.Path, "/api/") ||
					r.URL.Path == "/video_feed" ||
					r.Header.Get("X-Requested-With") == "XMLHttpRequest" ||
					r.Header.Get("Content-Type") == "application/json" {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
