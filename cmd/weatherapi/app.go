package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/weatherapi/internal/cache"
	"github.com/nkiryanov/weatherapi/internal/db"
	"github.com/nkiryanov/weatherapi/internal/handlers"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/repository/postgres"
	"github.com/nkiryanov/weatherapi/internal/service/auth"
	"github.com/nkiryanov/weatherapi/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/weatherapi/internal/service/sweeper"
	"github.com/nkiryanov/weatherapi/internal/service/user"
	"github.com/nkiryanov/weatherapi/internal/service/weather"
	"github.com/nkiryanov/weatherapi/internal/service/weather/openweather"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *sweeper.Sweeper
	logger  logger.Logger

	// Released in reverse order when app stopped
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (app *ServerApp, err error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config. Err: %w", err)
	}

	// Initialize logger
	l, err := logger.New(logger.Config{Env: c.Environment, Level: c.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Whatever is opened already is released if app can't be built
	a := &ServerApp{ListenAddr: c.ListenAddr, logger: l}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	// Weather cache is optional
	var weatherCache weather.Cache = cache.NoopCache{}
	if c.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		weatherCache = cache.NewRedisCache(client)
	} else {
		l.Warn("Redis url is not set, weather is not cached")
	}

	if c.OpenWeatherAPIKey == "" {
		l.Warn("OpenWeatherMap API key is not set, weather requests will fail")
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	}, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{}, tokenManager, storage.User())
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	userService := user.NewService(auth.DefaultHasher, storage)

	provider := openweather.NewClient(openweather.Config{
		BaseURL: c.OpenWeatherURL,
		APIKey:  c.OpenWeatherAPIKey,
		Timeout: c.OpenWeatherTimeout,
	}, l)
	weatherService := weather.NewService(weather.Config{
		CacheTTL:    c.CacheTTL,
		CachePrefix: c.CachePrefix,
	}, weatherCache, provider, storage, l)

	a.sweeper = sweeper.New(c.SweepInterval, tokenManager, l)
	a.Handler = handlers.NewRouter(handlers.Services{
		Auth:    authService,
		User:    userService,
		Weather: weatherService,
		DB:      pool,
	}, l)

	return a, nil
}

// Run starts http server and sweeper, both stopped gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Listen and serve until context is cancelled
	g.Go(func() error {
		s.logger.Info("Starting server", "address", s.ListenAddr)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	// Close connections gracefully when context cancelled or server failed
	g.Go(func() error {
		<-ctx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(timeoutCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
			err = httpServer.Close()
		}
		s.logger.Info("HTTP server stopped")
		return err
	})

	g.Go(func() error {
		<-s.sweeper.Sweep(ctx)
		return nil
	})

	return g.Wait()
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
