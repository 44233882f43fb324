package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	orgIDKey  contextKey = "org_id"
	userIDKey contextKey = "user_id"
)

// Tenant resolves the calling organization and user from the X-Org-ID
// and X-User-ID headers and stores them in the request context. Every
// record read or written downstream is scoped to that organization.
//
// A missing or malformed org ID rejects the request; the user ID is
// optional and defaults to the nil UUID.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Org-ID")
		if raw == "" {
			http.Error(w, `{"error":"missing X-Org-ID header","code":"TENANT_MISSING"}`, http.StatusUnauthorized)
			return
		}

		orgID, err := uuid.Parse(raw)
		if err != nil {
			slog.Warn("tenant: invalid org ID",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			http.Error(w, `{"error":"invalid X-Org-ID header","code":"TENANT_INVALID"}`, http.StatusBadRequest)
			return
		}

		userID := uuid.Nil
		if rawUser := r.Header.Get("X-User-ID"); rawUser != "" {
			if parsed, err := uuid.Parse(rawUser); err == nil {
				userID = parsed
			}
		}

		ctx := context.WithValue(r.Context(), orgIDKey, orgID)
		ctx = context.WithValue(ctx, userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrgID returns the organization resolved by Tenant, or uuid.Nil when
// the middleware did not run.
func OrgID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(orgIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// UserID returns the user resolved by Tenant, or uuid.Nil.
func UserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
