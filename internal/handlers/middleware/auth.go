package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/handlers/render"
	"github.com/nkiryanov/weatherapi/internal/handlers/userctx"
	"github.com/nkiryanov/weatherapi/internal/models"
)

type authService interface {
	Authenticate(ctx context.Context, r *http.Request) (models.Identity, error)
}

// Require valid access token, put caller identity to request context
func Auth(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := as.Authenticate(r.Context(), r)
			if err != nil {
				render.Error(w, err)
				return
			}
			ctx := userctx.New(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Same as Auth but lets anonymous requests through
// A presented but invalid token is still rejected
func OptionalAuth(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := as.Authenticate(r.Context(), r)
			switch {
			case err == nil:
				r = r.WithContext(userctx.New(r.Context(), identity))
			case errors.Is(err, apperrors.ErrAccessTokenMissing):
				// anonymous
			default:
				render.Error(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Allow only callers with one of the roles
// Must be used after Auth
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := userctx.FromContext(r.Context())
			if !ok {
				render.Error(w, apperrors.ErrAccessTokenMissing)
				return
			}
			if !slices.Contains(roles, identity.Role) {
				render.Error(w, apperrors.ErrRoleNotAllowed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
