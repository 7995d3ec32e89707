package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/weatherapi/internal/cache"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/repository/postgres"
	"github.com/nkiryanov/weatherapi/internal/service/auth"
	"github.com/nkiryanov/weatherapi/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/weatherapi/internal/service/user"
	"github.com/nkiryanov/weatherapi/internal/service/weather"
	"github.com/nkiryanov/weatherapi/internal/service/weather/openweather"
	"github.com/nkiryanov/weatherapi/internal/testutil"
)

// Provider answers with the requested city name and counts calls
type fakeProvider struct {
	calls atomic.Int32
}

func (p *fakeProvider) Fetch(_ context.Context, r openweather.Request) (json.RawMessage, error) {
	p.calls.Add(1)
	if r.City == "Atlantis" {
		return nil, openweather.NewProviderError(openweather.CodeNotFound, http.StatusNotFound, fmt.Errorf("city not found"))
	}
	return json.RawMessage(fmt.Sprintf(`{"name": %q, "units": %q}`, r.City, r.Units)), nil
}

type memCache map[string][]byte

func (c memCache) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := c[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return value, nil
}

func (c memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c[key] = value
	return nil
}

type testServer struct {
	url      string
	provider *fakeProvider
	users    *user.UserService
	auth     *auth.AuthService
}

// Create db transaction and run server with that connection (one connection cause one transaction)
func serveWithTx(t *testing.T, dbtx postgres.DBTX, fn func(srv testServer)) {
	testutil.InTx(dbtx, t, func(tx pgx.Tx) {
		storage := postgres.NewStorage(tx)
		hasher := auth.BcryptHasher{Cost: bcrypt.MinCost}

		tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"}, storage)
		require.NoError(t, err, "token manager should be created without errors")

		as, err := auth.NewService(auth.Config{Hasher: hasher}, tokenManager, storage.User())
		require.NoError(t, err, "auth service starting error", err)

		us := user.NewService(hasher, storage)
		provider := &fakeProvider{}
		ws := weather.NewService(weather.Config{}, memCache{}, provider, storage, nil)

		router := NewRouter(Services{Auth: as, User: us, Weather: ws}, logger.NewNoOpLogger())

		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(testServer{url: srv.URL, provider: provider, users: us, auth: as})
	})
}

// Send request with optional bearer token and json body, return status and body
func do(t *testing.T, method string, url string, token string, body string) (int, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(b)
}

type tokens struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func login(t *testing.T, url string, email string, password string) tokens {
	t.Helper()

	status, body := do(t, http.MethodPost, url+"/auth/login", "", fmt.Sprintf(`{"email": %q, "password": %q}`, email, password))
	require.Equalf(t, http.StatusOK, status, "login failed. Body: %s", body)

	var pair tokens
	require.NoError(t, json.Unmarshal([]byte(body), &pair))
	require.NotEmpty(t, pair.Token)
	require.NotEmpty(t, pair.RefreshToken)
	return pair
}

func TestRouter(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	admin := &models.Identity{UserID: uuid.New(), Role: models.RoleAdmin}

	// Create admin and plain user, login both
	withUsers := func(t *testing.T, srv testServer) (adminTokens tokens, userTokens tokens, plain models.User) {
		_, err := srv.users.CreateUser(t.Context(), nil, "admin@example.com", "AdminPass123!", "")
		require.NoError(t, err)
		plain, err = srv.users.CreateUser(t.Context(), admin, "user@example.com", "UserPass123!", models.RoleUser)
		require.NoError(t, err)

		return login(t, srv.url, "admin@example.com", "AdminPass123!"), login(t, srv.url, "user@example.com", "UserPass123!"), plain
	}

	t.Run("health", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			status, body := do(t, http.MethodGet, srv.url+"/health", "", "")

			require.Equal(t, http.StatusOK, status)
			require.JSONEq(t, `{"ok": true}`, body)
		})
	})

	t.Run("unknown route", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			status, body := do(t, http.MethodGet, srv.url+"/api/orders", "", "")

			require.Equal(t, http.StatusNotFound, status)
			require.JSONEq(t, `{"error": "service_error", "message": "Route not found"}`, body)
		})
	})

	t.Run("bootstrap", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			status, body := do(t, http.MethodPost, srv.url+"/admin/users", "", `{"email": "admin@example.com", "password": "AdminPass123!"}`)
			require.Equalf(t, http.StatusCreated, status, "first user is created anonymously. Body: %s", body)

			var created struct {
				ID    uuid.UUID `json:"id"`
				Email string    `json:"email"`
				Role  string    `json:"role"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &created))
			require.Equal(t, "admin@example.com", created.Email)
			require.Equal(t, models.RoleAdmin, created.Role)
			require.NotContains(t, body, "assword", "password hash must not be rendered")

			status, body = do(t, http.MethodPost, srv.url+"/admin/users", "", `{"email": "second@example.com", "password": "AdminPass123!"}`)
			require.Equal(t, http.StatusUnauthorized, status, "bootstrap is single use")
			require.JSONEq(t, `{"error": "unauthorized", "message": "bootstrap is closed, authentication required"}`, body)
		})
	})

	t.Run("login refresh logout", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			withUsers(t, srv)
			first := login(t, srv.url, "admin@example.com", "AdminPass123!")

			status, body := do(t, http.MethodPost, srv.url+"/auth/refresh", "", fmt.Sprintf(`{"refreshToken": %q}`, first.RefreshToken))
			require.Equalf(t, http.StatusOK, status, "Body: %s", body)
			var second tokens
			require.NoError(t, json.Unmarshal([]byte(body), &second))
			require.NotEqual(t, first.RefreshToken, second.RefreshToken, "refresh token should be rotated")

			status, body = do(t, http.MethodPost, srv.url+"/auth/refresh", "", fmt.Sprintf(`{"refreshToken": %q}`, first.RefreshToken))
			require.Equal(t, http.StatusUnauthorized, status, "used refresh token must be rejected")
			require.JSONEq(t, `{"error": "unauthorized", "message": "refresh token not found"}`, body)

			status, body = do(t, http.MethodPost, srv.url+"/auth/logout", "", fmt.Sprintf(`{"refreshToken": %q}`, second.RefreshToken))
			require.Equal(t, http.StatusOK, status)
			require.JSONEq(t, `{"success": true}`, body)

			status, _ = do(t, http.MethodPost, srv.url+"/auth/logout", "", fmt.Sprintf(`{"refreshToken": %q}`, second.RefreshToken))
			require.Equal(t, http.StatusOK, status, "logout is idempotent")

			status, _ = do(t, http.MethodPost, srv.url+"/auth/refresh", "", fmt.Sprintf(`{"refreshToken": %q}`, second.RefreshToken))
			require.Equal(t, http.StatusUnauthorized, status, "revoked refresh token must be rejected")
		})
	})

	t.Run("login fails", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			withUsers(t, srv)

			tests := []struct {
				name           string
				body           string
				expectedStatus int
			}{
				{"wrong password", `{"email": "admin@example.com", "password": "wrong"}`, http.StatusUnauthorized},
				{"unknown user", `{"email": "nobody@example.com", "password": "AdminPass123!"}`, http.StatusUnauthorized},
				{"not an email", `{"email": "admin", "password": "AdminPass123!"}`, http.StatusBadRequest},
				{"no password", `{"email": "admin@example.com"}`, http.StatusBadRequest},
				{"not a json", `email=admin`, http.StatusBadRequest},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					status, body := do(t, http.MethodPost, srv.url+"/auth/login", "", tt.body)

					require.Equalf(t, tt.expectedStatus, status, "Body: %s", body)
				})
			}
		})
	})

	t.Run("weather", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			_, userTokens, plain := withUsers(t, srv)

			status, _ := do(t, http.MethodGet, srv.url+"/weather?city=Paris", "", "")
			require.Equal(t, http.StatusUnauthorized, status, "weather requires authentication")

			status, body := do(t, http.MethodGet, srv.url+"/weather?city=Paris", userTokens.Token, "")
			require.Equalf(t, http.StatusOK, status, "Body: %s", body)
			var first models.WeatherQuery
			require.NoError(t, json.Unmarshal([]byte(body), &first))
			require.False(t, first.CacheHit)
			require.Equal(t, plain.ID, first.UserID)
			require.Equal(t, models.UnitsMetric, first.Units, "metric units by default")
			require.JSONEq(t, `{"name": "Paris", "units": "metric"}`, string(first.Response))

			status, body = do(t, http.MethodGet, srv.url+"/weather?city=paris&units=metric", userTokens.Token, "")
			require.Equal(t, http.StatusOK, status)
			var second models.WeatherQuery
			require.NoError(t, json.Unmarshal([]byte(body), &second))
			require.True(t, second.CacheHit, "second lookup has to be served from cache")
			require.JSONEq(t, string(first.Response), string(second.Response))
			require.Equal(t, int32(1), srv.provider.calls.Load())

			status, body = do(t, http.MethodGet, srv.url+"/weather?lat=48.8566&lon=2.3522", userTokens.Token, "")
			require.Equalf(t, http.StatusOK, status, "Body: %s", body)

			status, body = do(t, http.MethodGet, srv.url+"/me/queries", userTokens.Token, "")
			require.Equal(t, http.StatusOK, status)
			var queries []models.WeatherQuery
			require.NoError(t, json.Unmarshal([]byte(body), &queries))
			require.Len(t, queries, 2, "cache hit is not stored")
			require.NotNil(t, queries[1].City)
			require.Equal(t, "Paris", *queries[1].City, "newest first")
		})
	})

	t.Run("weather bad requests", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			_, userTokens, _ := withUsers(t, srv)

			tests := []struct {
				name           string
				query          string
				expectedStatus int
				expectedError  string
			}{
				{"nothing", "", http.StatusBadRequest, "invalid_argument"},
				{"city and coordinates", "?city=Paris&lat=1&lon=2", http.StatusBadRequest, "invalid_argument"},
				{"lat only", "?lat=1", http.StatusBadRequest, "invalid_argument"},
				{"lat out of range", "?lat=91&lon=2", http.StatusBadRequest, "validation_failed"},
				{"unknown units", "?city=Paris&units=kelvin", http.StatusBadRequest, "validation_failed"},
				{"unknown city", "?city=Atlantis", http.StatusBadGateway, "upstream_failure"},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					status, body := do(t, http.MethodGet, srv.url+"/weather"+tt.query, userTokens.Token, "")

					require.Equalf(t, tt.expectedStatus, status, "Body: %s", body)
					var response struct {
						Error string `json:"error"`
					}
					require.NoError(t, json.Unmarshal([]byte(body), &response))
					require.Equal(t, tt.expectedError, response.Error)
				})
			}
		})
	})

	t.Run("role enforcement", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			_, userTokens, _ := withUsers(t, srv)

			tests := []struct {
				method string
				path   string
				body   string
			}{
				{http.MethodGet, "/admin/users", ""},
				{http.MethodPatch, "/admin/users/" + uuid.NewString(), `{"role": "ADMIN"}`},
				{http.MethodDelete, "/admin/users/" + uuid.NewString(), ""},
				{http.MethodGet, "/admin/queries", ""},
				{http.MethodPost, "/admin/users", `{"email": "new@example.com", "password": "Password123!"}`},
			}

			for _, tt := range tests {
				t.Run(tt.method+" "+tt.path, func(t *testing.T) {
					status, body := do(t, tt.method, srv.url+tt.path, userTokens.Token, tt.body)
					require.Equalf(t, http.StatusForbidden, status, "user is known but not allowed. Body: %s", body)

					status, _ = do(t, tt.method, srv.url+tt.path, "", tt.body)
					require.Equal(t, http.StatusUnauthorized, status, "anonymous is unknown")
				})
			}
		})
	})

	t.Run("admin manages users", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			adminTokens, userTokens, plain := withUsers(t, srv)

			status, body := do(t, http.MethodPost, srv.url+"/admin/users", adminTokens.Token, `{"email": "new@example.com", "password": "Password123!", "role": "USER"}`)
			require.Equalf(t, http.StatusCreated, status, "Body: %s", body)

			status, body = do(t, http.MethodPost, srv.url+"/admin/users", adminTokens.Token, `{"email": "new@example.com", "password": "Password123!"}`)
			require.Equal(t, http.StatusConflict, status)
			require.JSONEq(t, `{"error": "conflict", "message": "user already exists"}`, body)

			status, body = do(t, http.MethodPost, srv.url+"/admin/users", adminTokens.Token, `{"email": "bad@example.com", "password": "Password123!", "role": "ROOT"}`)
			require.Equal(t, http.StatusBadRequest, status)
			require.JSONEq(t, `{"error": "validation_failed", "message": "Request validation failed", "fields": {"role": "Unknown role"}}`, body)

			status, body = do(t, http.MethodGet, srv.url+"/admin/users", adminTokens.Token, "")
			require.Equal(t, http.StatusOK, status)
			var users []struct {
				Email string `json:"email"`
			}
			require.NoError(t, json.Unmarshal([]byte(body), &users))
			require.Len(t, users, 3)

			status, body = do(t, http.MethodPatch, srv.url+"/admin/users/"+plain.ID.String(), adminTokens.Token, `{"role": "ADMIN"}`)
			require.Equalf(t, http.StatusOK, status, "Body: %s", body)
			require.Contains(t, body, `"role":"ADMIN"`)

			status, _ = do(t, http.MethodPatch, srv.url+"/admin/users/not-uuid", adminTokens.Token, `{"role": "ADMIN"}`)
			require.Equal(t, http.StatusBadRequest, status)

			status, _ = do(t, http.MethodPatch, srv.url+"/admin/users/"+uuid.NewString(), adminTokens.Token, `{"role": "ADMIN"}`)
			require.Equal(t, http.StatusNotFound, status)

			// New role is picked up on refresh
			status, body = do(t, http.MethodPost, srv.url+"/auth/refresh", "", fmt.Sprintf(`{"refreshToken": %q}`, userTokens.RefreshToken))
			require.Equal(t, http.StatusOK, status)
			var promoted tokens
			require.NoError(t, json.Unmarshal([]byte(body), &promoted))
			status, _ = do(t, http.MethodGet, srv.url+"/admin/users", promoted.Token, "")
			require.Equal(t, http.StatusOK, status)

			status, body = do(t, http.MethodDelete, srv.url+"/admin/users/"+plain.ID.String(), adminTokens.Token, "")
			require.Equal(t, http.StatusOK, status)
			require.JSONEq(t, `{"success": true}`, body)

			status, _ = do(t, http.MethodDelete, srv.url+"/admin/users/"+plain.ID.String(), adminTokens.Token, "")
			require.Equal(t, http.StatusNotFound, status)

			status, _ = do(t, http.MethodPost, srv.url+"/auth/refresh", "", fmt.Sprintf(`{"refreshToken": %q}`, promoted.RefreshToken))
			require.Equal(t, http.StatusUnauthorized, status, "tokens of deleted user are gone")
		})
	})

	t.Run("admin lists queries", func(t *testing.T) {
		serveWithTx(t, pg.Pool, func(srv testServer) {
			adminTokens, userTokens, _ := withUsers(t, srv)

			for _, city := range []string{"Paris", "London", "Berlin"} {
				status, _ := do(t, http.MethodGet, srv.url+"/weather?city="+city, userTokens.Token, "")
				require.Equal(t, http.StatusOK, status)
			}
			status, _ := do(t, http.MethodGet, srv.url+"/weather?city=Rome", adminTokens.Token, "")
			require.Equal(t, http.StatusOK, status)

			count := func(path string, token string) int {
				status, body := do(t, http.MethodGet, srv.url+path, token, "")
				require.Equalf(t, http.StatusOK, status, "Body: %s", body)
				var queries []models.WeatherQuery
				require.NoError(t, json.Unmarshal([]byte(body), &queries))
				return len(queries)
			}

			require.Equal(t, 3, count("/weather/queries", userTokens.Token), "user sees own queries")
			require.Equal(t, 4, count("/weather/queries", adminTokens.Token), "admin sees all queries")
			require.Equal(t, 4, count("/admin/queries", adminTokens.Token))
			require.Equal(t, 3, count("/admin/queries?page=1&size=3", adminTokens.Token))
			require.Equal(t, 1, count("/admin/queries?page=2&size=3", adminTokens.Token))
			require.Equal(t, 0, count("/admin/queries?page=3&size=3", adminTokens.Token))
			require.Equal(t, 4, count("/admin/queries?page=oops&size=oops", adminTokens.Token), "malformed paging falls back to defaults")
		})
	})
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	t.Run("db unavailable", func(t *testing.T) {
		h := handleHealth(pingFunc(func(context.Context) error { return fmt.Errorf("connection refused") }), logger.NewNoOpLogger())
		w := httptest.NewRecorder()

		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.JSONEq(t, `{"ok": false}`, w.Body.String())
	})

	t.Run("db ok", func(t *testing.T) {
		h := handleHealth(pingFunc(func(context.Context) error { return nil }), logger.NewNoOpLogger())
		w := httptest.NewRecorder()

		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
	})
}
