// Package middleware provides the HTTP middleware guarding the API's
// mutating routes.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/usenetsync/usenetsync/pkg/api/auth"
)

type contextKey string

const userContextKey contextKey = "user_id"

// UserID returns the authenticated user identifier from the request
// context, or empty when the route carried no session.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userContextKey).(string)
	return id
}

// extractBearerToken pulls the token out of a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

// SessionAuth validates the Bearer session token and stores the user
// identifier in the request context. Requests without a valid token get
// 401 in the standard error envelope.
func SessionAuth(sessions *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				unauthorized(w, "authorization header required")
				return
			}

			claims, err := sessions.ValidateToken(token)
			if err != nil {
				unauthorized(w, "invalid or expired session token")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":{"code":"unauthenticated","message":%q}}`+"\n", msg)
}
