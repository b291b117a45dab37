package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

const (
	requestIDContextKey contextKey = "request_id"
	adminContextKey     contextKey = "admin"
)

// AdminKey returns middleware that requires "Authorization: Bearer <key>"
// where key matches the bcrypt hash. An empty hash rejects every request.
func AdminKey(hash string) func(http.Handler) http.Handler {
	hashed := []byte(hash)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := bearerToken(r)
			if !ok || len(hashed) == 0 || bcrypt.CompareHashAndPassword(hashed, []byte(key)) != nil {
				zap.L().Warn("admin_auth_failed",
					zap.String("path", r.URL.Path),
					zap.String("ip", clientIP(r)),
					zap.String("request_id", RequestIDFromContext(r.Context())))
				w.Header().Set("WWW-Authenticate", `Bearer realm="assocmail"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminContextKey, true)))
		})
	}
}

// IsAdmin reports whether the request passed AdminKey.
func IsAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(adminContextKey).(bool)
	return ok
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HashAdminKey returns the bcrypt hash to store in ADMIN_KEY_HASH.
func HashAdminKey(key string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	return string(b), err
}
