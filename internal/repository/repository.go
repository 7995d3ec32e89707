package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/weatherapi/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with email exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, email string, hashedPassword string, role string) (models.User, error)

	// Get user by it's id or email
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// List all users ordered by creation time
	ListUsers(ctx context.Context) ([]models.User, error)

	// Set new role to the user
	// If user not found must return apperrors.ErrUserNotFound
	UpdateRole(ctx context.Context, userID uuid.UUID, role string) (models.User, error)

	// Delete user with all its tokens and queries
	// If user not found must return apperrors.ErrUserNotFound
	DeleteUser(ctx context.Context, userID uuid.UUID) error

	// Count users
	// Call LockUsers first within transaction to be sure the count is not changed until commit
	CountUsers(ctx context.Context) (int64, error)
	LockUsers(ctx context.Context) error
}

// RefreshToken repository interface
// Presence of the token in repository is the only thing that makes it usable
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) error

	// Delete token and return it as it was stored
	// Must be atomic: of two concurrent callers only one gets the token
	// If the token not exists must return apperrors.ErrRefreshTokenNotFound
	Delete(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Delete tokens expired before the moment
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type ListQueriesOpts struct {
	// Filter by user if set
	UserID *uuid.UUID

	Limit  int
	Offset int
}

// WeatherQuery repository interface
type WeatherQueryRepo interface {
	// Create query record, return it as stored
	CreateQuery(ctx context.Context, query models.WeatherQuery) (models.WeatherQuery, error)

	// List queries newest first
	ListQueries(ctx context.Context, opts ListQueriesOpts) ([]models.WeatherQuery, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo
	Query() WeatherQueryRepo

	// Run function in transaction
	// If it returns error the transaction is rolled back, committed otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
