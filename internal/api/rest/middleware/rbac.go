package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/docflowhq/docflow/pkg/logger"
)

// RequirePermission is a middleware that checks if the user has a specific permission
func RequirePermission(permission string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := GetActor(r.Context())
			if actor == nil {
				log.Warn("No actor found in context for permission check")
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if !actor.HasPermission(permission) {
				log.Warn("Permission denied",
					zap.String("user_id", actor.ID.String()),
					zap.String("required_permission", permission),
				)
				respondError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole is a middleware that checks if the user has any of the specified roles
func RequireAnyRole(roles []string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := GetActor(r.Context())
			if actor == nil {
				log.Warn("No actor found in context for role check")
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if !actor.HasAnyRole(roles...) {
				log.Warn("Role check failed - no matching roles",
					zap.String("user_id", actor.ID.String()),
					zap.Strings("required_roles", roles),
				)
				respondError(w, http.StatusForbidden, "Insufficient privileges")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
