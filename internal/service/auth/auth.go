package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/repository"
)

const (
	defaultAccessHeaderName = "Authorization"
	defaultAccessAuthScheme = "Bearer"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

type tokenManager interface {
	GeneratePair(ctx context.Context, user models.User) (models.TokenPair, error)
	Rotate(ctx context.Context, refresh string) (models.TokenPair, error)
	Revoke(ctx context.Context, refresh string) error
	ParseAccess(ctx context.Context, access string) (models.Identity, error)
}

type Config struct {
	// Hasher to compare user passwords on login
	// If not set than DefaultHasher is used
	Hasher PasswordHasher

	// Header and scheme the access token expected in: 'Authorization: Bearer <token>'
	AccessHeaderName string
	AccessAuthScheme string
}

// Auth service
type AuthService struct {
	// Manager to issue token pairs (access and refresh)
	tokenManager tokenManager

	// hasher to hash or compare user passwords
	hasher PasswordHasher

	accessHeaderName string
	accessAuthScheme string

	// Hash to compare passwords against when user not found
	// Makes login of unknown and known users take the same time
	dummyHash func() (string, error)

	userRepo repository.UserRepo
}

func NewService(cfg Config, tokenManager tokenManager, userRepo repository.UserRepo) (*AuthService, error) {
	setDefault := func(field *string, def string) {
		if *field == "" {
			*field = def
		}
	}
	setDefault(&cfg.AccessHeaderName, defaultAccessHeaderName)
	setDefault(&cfg.AccessAuthScheme, defaultAccessAuthScheme)

	hasher := cfg.Hasher
	if hasher == nil {
		hasher = DefaultHasher
	}

	return &AuthService{
		tokenManager:     tokenManager,
		hasher:           hasher,
		accessHeaderName: cfg.AccessHeaderName,
		accessAuthScheme: cfg.AccessAuthScheme,
		dummyHash: sync.OnceValues(func() (string, error) {
			return hasher.Hash("dummy-password")
		}),
		userRepo: userRepo,
	}, nil
}

// Login user with email and password
// Unknown email and wrong password are not distinguished: both are apperrors.ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.TokenPair, error) {
	user, err := s.userRepo.GetUserByEmail(ctx, email)

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		if hash, err := s.dummyHash(); err == nil {
			_ = s.hasher.Compare(hash, password)
		}
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.TokenPair{}, fmt.Errorf("error while getting user. Err: %w", err)
	}

	err = s.hasher.Compare(user.HashedPassword, password)
	if err != nil {
		return models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.tokenManager.GeneratePair(ctx, user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. Err: %w", err)
	}

	return pair, nil
}

// Exchange refresh token for a new token pair
// If token expired: returns apperrors.ErrRefreshTokenExpired
// If token not found or used already: returns apperrors.ErrRefreshTokenNotFound
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	return s.tokenManager.Rotate(ctx, refresh)
}

// Revoke refresh token
// Issued access tokens stay valid until expired
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	return s.tokenManager.Revoke(ctx, refresh)
}

// Authenticate request by access token in header
func (s *AuthService) Authenticate(ctx context.Context, r *http.Request) (models.Identity, error) {
	header := r.Header.Get(s.accessHeaderName)
	if header == "" {
		return models.Identity{}, apperrors.ErrAccessTokenMissing
	}

	scheme, access, ok := strings.Cut(header, " ")
	access = strings.TrimSpace(access)
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) || access == "" {
		return models.Identity{}, apperrors.ErrAccessTokenInvalid
	}

	return s.tokenManager.ParseAccess(ctx, access)
}
