package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	UnitsStandard = "standard"
	UnitsMetric   = "metric"
	UnitsImperial = "imperial"
)

// Weather lookup made by a user
// Either City or the coordinates pair is set, never both
type WeatherQuery struct {
	ID        uuid.UUID           `json:"id"`
	UserID    uuid.UUID           `json:"userId"`
	City      *string             `json:"city,omitempty"`
	Lat       decimal.NullDecimal `json:"lat"`
	Lon       decimal.NullDecimal `json:"lon"`
	Units     string              `json:"units"`
	Response  json.RawMessage     `json:"response"`
	CacheHit  bool                `json:"cacheHit"`
	CreatedAt time.Time           `json:"createdAt"`
}

func IsValidUnits(units string) bool {
	switch units {
	case UnitsStandard, UnitsMetric, UnitsImperial:
		return true
	default:
		return false
	}
}
