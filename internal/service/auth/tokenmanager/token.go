package tokenmanager

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/repository"
)

const (
	DefaultAccessTokenTTL  = 24 * time.Hour
	defaultSigningMethod   = "HS256"
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	refreshTokenBytesLen = 32
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	// Secret key to sign access token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	// Refresh tokens and their owners
	storage repository.Storage
}

func New(cfg Config, storage repository.Storage) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if _, ok := alg.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("signing method %q is not supported", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, DefaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, DefaultRefreshTokenTTL)

	return &TokenManager{
		key:        cfg.SecretKey,
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		storage:    storage,
	}, nil
}

// Sign access token for the user
// Token carries user id as subject and user role
func (m *TokenManager) IssueAccess(user models.User) (models.IssuedToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Subject:   user.ID.String(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			Role: user.Role,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}

// Generate random refresh token for the user and save its digest
func (m *TokenManager) IssueRefresh(ctx context.Context, userID uuid.UUID) (models.IssuedToken, error) {
	return m.issueRefresh(ctx, m.storage, userID)
}

func (m *TokenManager) issueRefresh(ctx context.Context, storage repository.Storage, userID uuid.UUID) (models.IssuedToken, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(m.refreshTTL)

	b := make([]byte, refreshTokenBytesLen)
	_, err := rand.Read(b)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while generate refresh token. Err: %w", err)
	}
	refresh := hex.EncodeToString(b)

	err = storage.Refresh().Save(ctx, models.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hashRefresh(refresh),
		CreatedAt: now,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: refresh, ExpiresAt: expiresAt}, nil
}

func (m *TokenManager) GeneratePair(ctx context.Context, user models.User) (models.TokenPair, error) {
	return m.generatePair(ctx, m.storage, user)
}

func (m *TokenManager) generatePair(ctx context.Context, storage repository.Storage, user models.User) (models.TokenPair, error) {
	access, err := m.IssueAccess(user)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.issueRefresh(ctx, storage, user.ID)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

// Exchange refresh token for a new pair
// The presented token is consumed in any case: the same value never works twice
// Pair is issued with the owner role as it is now, not as it was on login
func (m *TokenManager) Rotate(ctx context.Context, refresh string) (models.TokenPair, error) {
	var (
		pair    models.TokenPair
		expired bool
	)

	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		token, err := s.Refresh().Delete(ctx, hashRefresh(refresh))
		if err != nil {
			return err
		}

		// Keep token deleted, nobody needs it anymore
		if token.IsExpired(time.Now()) {
			expired = true
			return nil
		}

		user, err := s.User().GetUserByID(ctx, token.UserID)
		if err != nil {
			return err
		}

		pair, err = m.generatePair(ctx, s, user)
		return err
	})

	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", apperrors.ErrRefreshTokenNotFound)
	case err != nil:
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", err)
	case expired:
		return pair, fmt.Errorf("error while rotating refresh token. Err: %w", apperrors.ErrRefreshTokenExpired)
	default:
		return pair, nil
	}
}

// Revoke refresh token
// Unknown or already revoked token is not an error
func (m *TokenManager) Revoke(ctx context.Context, refresh string) error {
	_, err := m.storage.Refresh().Delete(ctx, hashRefresh(refresh))
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return fmt.Errorf("error while revoking refresh token. Err: %w", err)
	}
	return nil
}

// Delete refresh tokens that expired already
func (m *TokenManager) DeleteExpired(ctx context.Context) (int64, error) {
	count, err := m.storage.Refresh().DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("error while deleting expired refresh tokens. Err: %w", err)
	}
	return count, nil
}

// Parse and validate access token
// Nothing but signature and expiration checked: access tokens are not stored
func (m *TokenManager) ParseAccess(ctx context.Context, access string) (models.Identity, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w. Err: %w", apperrors.ErrAccessTokenInvalid, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w. Err: subject is not user id", apperrors.ErrAccessTokenInvalid)
	}
	if !models.IsValidRole(claims.Role) {
		return models.Identity{}, fmt.Errorf("%w. Err: unknown role %q", apperrors.ErrAccessTokenInvalid, claims.Role)
	}

	return models.Identity{UserID: userID, Role: claims.Role}, nil
}

// Digest of refresh token as it stored
func hashRefresh(refresh string) string {
	sum := sha256.Sum256([]byte(refresh))
	return hex.EncodeToString(sum[:])
}
