package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/repository"
)

type WeatherQueryRepo struct {
	DB DBTX
}

const queryColumns = `id, user_id, city, lat, lon, units, response, cache_hit, created_at`

const createQuery = `-- name: CreateQuery
INSERT INTO weather_queries (id, user_id, city, lat, lon, units, response, cache_hit, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + queryColumns

func (r *WeatherQueryRepo) CreateQuery(ctx context.Context, q models.WeatherQuery) (models.WeatherQuery, error) {
	rows, _ := r.DB.Query(ctx, createQuery, q.ID, q.UserID, q.City, q.Lat, q.Lon, q.Units, q.Response, q.CacheHit, q.CreatedAt)
	query, err := pgx.CollectOneRow(rows, rowToQuery)
	if err != nil {
		return query, fmt.Errorf("db error: %w", err)
	}
	return query, nil
}

const listQueries = `-- name: ListQueries
SELECT ` + queryColumns + ` FROM weather_queries
WHERE ($1::uuid IS NULL OR user_id = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3
`

func (r *WeatherQueryRepo) ListQueries(ctx context.Context, opts repository.ListQueriesOpts) ([]models.WeatherQuery, error) {
	// Zero limit means no limit
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}

	rows, _ := r.DB.Query(ctx, listQueries, opts.UserID, limit, opts.Offset)
	queries, err := pgx.CollectRows(rows, rowToQuery)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return queries, nil
}

func rowToQuery(row pgx.CollectableRow) (models.WeatherQuery, error) {
	var q models.WeatherQuery
	err := row.Scan(&q.ID, &q.UserID, &q.City, &q.Lat, &q.Lon, &q.Units, &q.Response, &q.CacheHit, &q.CreatedAt)
	return q, err
}
