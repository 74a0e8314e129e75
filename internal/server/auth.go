package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dativo-io/aegis/internal/identity"
	"github.com/dativo-io/aegis/internal/requestctx"
)

// AuthMiddleware validates X-Aegis-Key or Authorization: Bearer <key>
// against the identity registry and stores the verified subject in the
// request context.
func AuthMiddleware(identities *identity.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-Aegis-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}

			subject, err := identities.Verify(r.Context(), key)
			if errors.Is(err, identity.ErrRateLimitExceeded) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
				return
			}

			ctx := requestctx.SetSubject(r.Context(), subject.ID, subject.Email)
			if ws := r.Header.Get("X-Aegis-Workspace"); ws != "" {
				ctx = requestctx.SetWorkspaceID(ctx, ws)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
