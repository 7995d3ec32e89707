package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/weatherapi/internal/apperrors"
	"github.com/nkiryanov/weatherapi/internal/handlers/render"
	"github.com/nkiryanov/weatherapi/internal/handlers/userctx"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/models"
)

type userService interface {
	// Create user on behalf of actor, nil actor is allowed only while there are no users
	// Has to return apperrors.ErrBootstrapClosed if anonymous actor is not allowed anymore
	CreateUser(ctx context.Context, actor *models.Identity, email string, password string, role string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateRole(ctx context.Context, userID uuid.UUID, role string) (models.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return id, fmt.Errorf("%w: user id is not a valid uuid", apperrors.ErrInvalidArgument)
	}
	return id, nil
}

func handleCreateUser(userService userService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email,max=254"`
		Password string `json:"password" validate:"required,min=8,max=128"`
		Role     string `json:"role" validate:"omitempty,role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		var actor *models.Identity
		if identity, ok := userctx.FromContext(r.Context()); ok {
			actor = &identity
		}

		user, err := userService.CreateUser(r.Context(), actor, data.Email, data.Password, data.Role)
		if err != nil {
			renderError(w, l, err)
			return
		}

		l.Info("User created", "user_id", user.ID, "role", user.Role, "bootstrap", actor == nil)
		render.JSONWithStatus(w, newUserResponse(user), http.StatusCreated)
	})
}

func handleListUsers(userService userService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		users, err := userService.ListUsers(r.Context())
		if err != nil {
			renderError(w, l, err)
			return
		}

		response := make([]userResponse, 0, len(users))
		for _, u := range users {
			response = append(response, newUserResponse(u))
		}
		render.JSON(w, response)
	})
}

func handleUpdateUser(userService userService, l logger.Logger) http.Handler {
	type request struct {
		Role string `json:"role" validate:"required,role"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromPath(r)
		if err != nil {
			render.Error(w, err)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, err := userService.UpdateRole(r.Context(), userID, data.Role)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newUserResponse(user))
	})
}

func handleDeleteUser(userService userService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDFromPath(r)
		if err != nil {
			render.Error(w, err)
			return
		}

		if err := userService.DeleteUser(r.Context(), userID); err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, successResponse{Success: true})
	})
}
