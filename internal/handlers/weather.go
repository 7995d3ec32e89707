package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/handlers/render"
	"github.com/nkiryanov/weatherapi/internal/handlers/userctx"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/service/weather"
)

type weatherService interface {
	// Fetch weather through the cache, every miss is stored as a query record
	// Has to return apperrors.ErrWeatherQueryInvalid if query is malformed
	FetchWeather(ctx context.Context, q weather.Query) (models.WeatherQuery, error)

	// List own queries, or all queries paged for admins
	ListQueries(ctx context.Context, actor models.Identity, page weather.Page) ([]models.WeatherQuery, error)

	ListAllQueries(ctx context.Context, page weather.Page) ([]models.WeatherQuery, error)
}

func handleGetWeather(weatherService weatherService, l logger.Logger) http.Handler {
	type request struct {
		City  string `query:"city" validate:"omitempty,max=100"`
		Lat   string `query:"lat" validate:"omitempty,latitude"`
		Lon   string `query:"lon" validate:"omitempty,longitude"`
		Units string `query:"units" validate:"omitempty,units"`
	}

	parseCoordinate := func(value string) (decimal.NullDecimal, error) {
		if value == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.NullDecimal{}, fmt.Errorf("%w: coordinate %q is not a number", apperrors.ErrWeatherQueryInvalid, value)
		}
		return decimal.NewNullDecimal(d), nil
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())

		q := r.URL.Query()
		data := request{
			City:  q.Get("city"),
			Lat:   q.Get("lat"),
			Lon:   q.Get("lon"),
			Units: q.Get("units"),
		}
		if err := render.Validate(w, data); err != nil {
			return
		}

		lat, err := parseCoordinate(data.Lat)
		if err != nil {
			render.Error(w, err)
			return
		}
		lon, err := parseCoordinate(data.Lon)
		if err != nil {
			render.Error(w, err)
			return
		}

		query, err := weatherService.FetchWeather(r.Context(), weather.Query{
			UserID: identity.UserID,
			City:   data.City,
			Lat:    lat,
			Lon:    lon,
			Units:  data.Units,
		})
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, query)
	})
}

// Own queries for users, every query paged for admins
func handleListQueries(weatherService weatherService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := userctx.FromContext(r.Context())

		queries, err := weatherService.ListQueries(r.Context(), identity, pageFromRequest(r))
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, queries)
	})
}

func handleListAllQueries(weatherService weatherService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries, err := weatherService.ListAllQueries(r.Context(), pageFromRequest(r))
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, queries)
	})
}

// Malformed values fall back to defaults
func pageFromRequest(r *http.Request) weather.Page {
	number, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	return weather.Page{Number: number, Size: size}
}
