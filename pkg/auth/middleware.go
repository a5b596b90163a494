package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey int

const sessionKey contextKey = 0

// SessionFrom extracts the authenticated session from a request context.
func SessionFrom(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)
	return session, ok
}

// Middleware authenticates every request against the manager, accepting
// either a Bearer session token or HTTP Basic credentials. Unauthenticated
// requests are rejected with 401.
func Middleware(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := authenticateRequest(m, r)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey, session)))
		})
	}
}

// RequireWrite rejects requests whose session role cannot mutate data. It
// must run after Middleware.
func RequireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFrom(r.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		if !session.Role.CanWrite() {
			writeAuthError(w, http.StatusForbidden, ErrPermissionDenied.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authenticateRequest(m *Manager, r *http.Request) (*Session, error) {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return m.ValidateToken(token)
	}
	if username, password, ok := r.BasicAuth(); ok {
		user, err := m.Verify(username, password)
		if err != nil {
			return nil, err
		}
		return &Session{Username: user.Username, Role: user.Role}, nil
	}
	return nil, ErrInvalidCredentials
}

func writeAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":      false,
		"error":   "Unauthorized",
		"message": message,
		"code":    code,
	})
}
