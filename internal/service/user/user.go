package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/models"
	"github.com/nkiryanov/weatherapi/internal/repository"
	"github.com/nkiryanov/weatherapi/internal/service/auth"
)

type UserService struct {
	hasher  auth.PasswordHasher
	storage repository.Storage
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage) *UserService {
	if hasher == nil {
		hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
	}
}

// Create user on behalf of actor
// Only admins may create users. The exception is bootstrap: while there are no users at all
// the first one may be created by anonymous actor (nil), and it is always an admin
func (s *UserService) CreateUser(ctx context.Context, actor *models.Identity, email string, password string, role string) (models.User, error) {
	var user models.User

	if actor != nil && !actor.IsAdmin() {
		return user, apperrors.ErrRoleNotAllowed
	}

	if role == "" {
		role = models.RoleUser
	}
	if !models.IsValidRole(role) {
		return user, apperrors.ErrRoleInvalid
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	if actor != nil {
		// Own transaction: failed insert must not break the caller's one
		err = s.storage.InTx(ctx, func(storage repository.Storage) error {
			user, err = storage.User().CreateUser(ctx, email, hash, role)
			return err
		})
		if err != nil {
			return user, fmt.Errorf("can't create user. Err: %w", err)
		}
		return user, nil
	}

	// Lock is held until commit, so two bootstraps can't both see empty table
	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		if err := storage.User().LockUsers(ctx); err != nil {
			return err
		}

		count, err := storage.User().CountUsers(ctx)
		switch {
		case err != nil:
			return err
		case count > 0:
			return apperrors.ErrBootstrapClosed
		}

		user, err = storage.User().CreateUser(ctx, email, hash, models.RoleAdmin)
		return err
	})
	if err != nil {
		return user, fmt.Errorf("can't create first user. Err: %w", err)
	}

	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}

func (s *UserService) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.storage.User().ListUsers(ctx)
}

func (s *UserService) UpdateRole(ctx context.Context, userID uuid.UUID, role string) (models.User, error) {
	if !models.IsValidRole(role) {
		return models.User{}, apperrors.ErrRoleInvalid
	}

	return s.storage.User().UpdateRole(ctx, userID, role)
}

// Delete user, its refresh tokens and weather queries
func (s *UserService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	return s.storage.User().DeleteUser(ctx, userID)
}
