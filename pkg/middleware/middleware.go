package middleware

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/fleetyard/shipcm/modules/changes/services"
	"github.com/fleetyard/shipcm/pkg/composables"
	"github.com/fleetyard/shipcm/pkg/httpapi"
)

// ProvidePool binds the database pool into every request context.
func ProvidePool(pool *pgxpool.Pool) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(composables.WithPool(r.Context(), pool)))
		})
	}
}

// ProvideLogger binds a request-scoped logrus entry into the context.
func ProvideLogger(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			next.ServeHTTP(w, r.WithContext(composables.WithLogger(r.Context(), entry)))
		})
	}
}

// ProvideIdentity resolves the acting user from the trusted headers set by
// the authenticating proxy and rejects requests without one. Role defaults to
// requester unless the role header names an administrator.
func ProvideIdentity(userIDHeader, userRoleHeader string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := uuid.Parse(r.Header.Get(userIDHeader))
			if err != nil || userID == uuid.Nil {
				_ = httpapi.WriteError(w, http.StatusUnauthorized, "CM_PERMISSION_DENIED", "no authenticated user", nil)
				return
			}
			role := services.RoleRequester
			if r.Header.Get(userRoleHeader) == string(services.RoleAdministrator) {
				role = services.RoleAdministrator
			}
			actor := services.Actor{ID: userID, Role: role}
			next.ServeHTTP(w, r.WithContext(services.WithActor(r.Context(), actor)))
		})
	}
}
