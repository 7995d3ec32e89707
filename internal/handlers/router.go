package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/handlers/middleware"
	"github.com/nkiryanov/weatherapi/internal/handlers/render"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Services struct {
	Auth    authService
	User    userService
	Weather weatherService

	// Optional, health check pings it if set
	DB pinger
}

func NewRouter(s Services, logger logger.Logger) http.Handler {
	withAuth := middleware.Auth(s.Auth)
	withAdmin := func(h http.Handler) http.Handler {
		return chain(h, withAuth, middleware.RequireRole(models.RoleAdmin))
	}

	mux := http.NewServeMux()

	mux.Handle("GET /health", handleHealth(s.DB, logger))

	mux.Handle("POST /auth/login", handleLogin(s.Auth, logger))
	mux.Handle("POST /auth/refresh", handleRefresh(s.Auth, logger))
	mux.Handle("POST /auth/logout", handleLogout(s.Auth, logger))

	mux.Handle("GET /weather", withAuth(handleGetWeather(s.Weather, logger)))
	mux.Handle("GET /weather/queries", withAuth(handleListQueries(s.Weather, logger)))
	mux.Handle("GET /me/queries", withAuth(handleListQueries(s.Weather, logger)))

	// First user is created anonymously, then only by admins
	mux.Handle("POST /admin/users", middleware.OptionalAuth(s.Auth)(handleCreateUser(s.User, logger)))
	mux.Handle("GET /admin/users", withAdmin(handleListUsers(s.User, logger)))
	mux.Handle("PATCH /admin/users/{id}", withAdmin(handleUpdateUser(s.User, logger)))
	mux.Handle("DELETE /admin/users/{id}", withAdmin(handleDeleteUser(s.User, logger)))
	mux.Handle("GET /admin/queries", withAdmin(handleListAllQueries(s.Weather, logger)))

	mux.Handle("/", handleNotFound())

	handler := chain(mux,
		middleware.Logger(logger),
	)

	return handler
}

func handleHealth(db pinger, l logger.Logger) http.Handler {
	type response struct {
		OK bool `json:"ok"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				l.Error("Health check failed", "error", err)
				render.JSONWithStatus(w, response{OK: false}, http.StatusServiceUnavailable)
				return
			}
		}

		render.JSON(w, response{OK: true})
	})
}

func handleNotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		render.ServiceError(w, "Route not found", http.StatusNotFound)
	})
}

// Render error, internal faults are logged as they have no details in response
func renderError(w http.ResponseWriter, l logger.Logger, err error) {
	if apperrors.Kind(err) == apperrors.ErrInternal {
		l.Error("Request failed", "error", err)
	}
	render.Error(w, err)
}
