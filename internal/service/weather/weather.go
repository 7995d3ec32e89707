package weather

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/cache"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/repository"
	"github.com/nkiryanov/weatherapi/internal/service/weather/openweather"
)

const (
	DefaultCacheTTL    = time.Hour
	DefaultCachePrefix = "weather"
	DefaultUnits       = models.UnitsMetric

	DefaultPageSize = 10
	MaxPageSize     = 100
)

var (
	minLat = decimal.NewFromInt(-90)
	maxLat = decimal.NewFromInt(90)
	minLon = decimal.NewFromInt(-180)
	maxLon = decimal.NewFromInt(180)
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Provider interface {
	Fetch(ctx context.Context, r openweather.Request) (json.RawMessage, error)
}

type Config struct {
	CacheTTL    time.Duration
	CachePrefix string
}

// Weather lookup parameters
// Either City or both Lat and Lon have to be set
type Query struct {
	UserID uuid.UUID
	City   string
	Lat    decimal.NullDecimal
	Lon    decimal.NullDecimal
	Units  string
}

type Page struct {
	Number int
	Size   int
}

type Service struct {
	cacheTTL    time.Duration
	cachePrefix string

	cache    Cache
	provider Provider
	storage  repository.Storage
	logger   logger.Logger
}

func NewService(cfg Config, c Cache, provider Provider, storage repository.Storage, l logger.Logger) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CachePrefix == "" {
		cfg.CachePrefix = DefaultCachePrefix
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		cacheTTL:    cfg.CacheTTL,
		cachePrefix: cfg.CachePrefix,
		cache:       c,
		provider:    provider,
		storage:     storage,
		logger:      l,
	}
}

// Fetch weather through the cache
// On cache hit the provider is not called and nothing is stored, the cached record is returned with CacheHit set.
// A record cached for another user comes without id: it is not a row the caller owns.
// On miss the provider answer is stored as new query record and cached.
func (s *Service) FetchWeather(ctx context.Context, q Query) (models.WeatherQuery, error) {
	var query models.WeatherQuery

	q, err := normalize(q)
	if err != nil {
		return query, err
	}
	key := s.cacheKey(q)

	if cached, ok := s.fromCache(ctx, key); ok {
		// Row of another user is not handed out, the caller gets its data only
		if cached.UserID != q.UserID {
			cached.ID = uuid.Nil
			cached.UserID = q.UserID
		}
		cached.CacheHit = true
		return cached, nil
	}

	response, err := s.provider.Fetch(ctx, openweather.Request{City: q.City, Lat: q.Lat, Lon: q.Lon, Units: q.Units})
	if err != nil {
		return query, upstreamError(err)
	}

	query = models.WeatherQuery{
		ID:        uuid.New(),
		UserID:    q.UserID,
		Lat:       q.Lat,
		Lon:       q.Lon,
		Units:     q.Units,
		Response:  response,
		CacheHit:  false,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if q.City != "" {
		query.City = &q.City
	}

	query, err = s.storage.Query().CreateQuery(ctx, query)
	if err != nil {
		return query, fmt.Errorf("can't store weather query. Err: %w", err)
	}

	s.toCache(ctx, key, query)
	return query, nil
}

// List queries visible to the actor: admin sees every query paged, others see their own
func (s *Service) ListQueries(ctx context.Context, actor models.Identity, page Page) ([]models.WeatherQuery, error) {
	if actor.IsAdmin() {
		return s.ListAllQueries(ctx, page)
	}

	return s.storage.Query().ListQueries(ctx, repository.ListQueriesOpts{UserID: &actor.UserID})
}

func (s *Service) ListAllQueries(ctx context.Context, page Page) ([]models.WeatherQuery, error) {
	page = normalizePage(page)

	return s.storage.Query().ListQueries(ctx, repository.ListQueriesOpts{
		Limit:  page.Size,
		Offset: (page.Number - 1) * page.Size,
	})
}

func (s *Service) fromCache(ctx context.Context, key string) (models.WeatherQuery, bool) {
	var query models.WeatherQuery

	value, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("Failed to read weather cache", "key", key, "error", err)
		}
		return query, false
	}

	if err := json.Unmarshal(value, &query); err != nil {
		s.logger.Warn("Failed to decode cached weather", "key", key, "error", err)
		return query, false
	}

	return query, true
}

func (s *Service) toCache(ctx context.Context, key string, query models.WeatherQuery) {
	value, err := json.Marshal(query)
	if err != nil {
		s.logger.Warn("Failed to encode weather for cache", "key", key, "error", err)
		return
	}

	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to write weather cache", "key", key, "error", err)
	}
}

// Cache key is stable for semantically equal queries
func (s *Service) cacheKey(q Query) string {
	var raw string
	if q.City != "" {
		raw = "city|" + strings.ToLower(q.City) + "|" + q.Units
	} else {
		raw = "coord|" + q.Lat.Decimal.String() + "|" + q.Lon.Decimal.String() + "|" + q.Units
	}

	sum := sha256.Sum256([]byte(raw))
	return s.cachePrefix + ":" + hex.EncodeToString(sum[:])
}

func normalize(q Query) (Query, error) {
	q.City = strings.Join(strings.Fields(q.City), " ")

	hasCity := q.City != ""
	hasCoords := q.Lat.Valid || q.Lon.Valid

	switch {
	case hasCity && hasCoords:
		return q, fmt.Errorf("%w: city and coordinates are mutually exclusive", apperrors.ErrWeatherQueryInvalid)
	case !hasCity && !hasCoords:
		return q, fmt.Errorf("%w: city or coordinates required", apperrors.ErrWeatherQueryInvalid)
	case hasCoords && !(q.Lat.Valid && q.Lon.Valid):
		return q, fmt.Errorf("%w: both lat and lon required", apperrors.ErrWeatherQueryInvalid)
	}

	if hasCoords {
		if q.Lat.Decimal.LessThan(minLat) || q.Lat.Decimal.GreaterThan(maxLat) {
			return q, fmt.Errorf("%w: lat out of range", apperrors.ErrWeatherQueryInvalid)
		}
		if q.Lon.Decimal.LessThan(minLon) || q.Lon.Decimal.GreaterThan(maxLon) {
			return q, fmt.Errorf("%w: lon out of range", apperrors.ErrWeatherQueryInvalid)
		}
	}

	if q.Units == "" {
		q.Units = DefaultUnits
	}
	if !models.IsValidUnits(q.Units) {
		return q, fmt.Errorf("%w: unknown units %q", apperrors.ErrWeatherQueryInvalid, q.Units)
	}

	return q, nil
}

func normalizePage(p Page) Page {
	if p.Number < 1 {
		p.Number = 1
	}
	switch {
	case p.Size < 1:
		p.Size = DefaultPageSize
	case p.Size > MaxPageSize:
		p.Size = MaxPageSize
	}
	return p
}

// Every provider failure is an upstream failure, provider code is kept in the message
func upstreamError(err error) error {
	var providerErr *openweather.ProviderError
	if errors.As(err, &providerErr) {
		return fmt.Errorf("%w: provider answered %s: %w", apperrors.ErrWeatherUpstream, providerErr.Code, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrWeatherUpstream, err)
}
