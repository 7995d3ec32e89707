package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/weatherapi/internal/handlers/render"
	"github.com/nkiryanov/weatherapi/internal/logger"
	"github.com/nkiryanov/weatherapi/internal/models"
)

type authService interface {
	// Login user with email and password
	// Has to return apperrors.ErrInvalidCredentials if user not found or password is wrong
	Login(ctx context.Context, email string, password string) (models.TokenPair, error)

	// Rotate refresh token and issue new pair
	// If token expired: has to return apperrors.ErrRefreshTokenExpired
	// If token not found: has to return apperrors.ErrRefreshTokenNotFound
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token, idempotent
	Logout(ctx context.Context, refresh string) error

	// Get identity of the request caller or error if request is not authenticated
	Authenticate(ctx context.Context, r *http.Request) (models.Identity, error)
}

type tokenPairResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

type successResponse struct {
	Success bool `json:"success"`
}

func newTokenPairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		Token:        pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
	}
}

func handleLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newTokenPairResponse(pair))
	})
}

func handleRefresh(authService authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Refresh(r.Context(), data.RefreshToken)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newTokenPairResponse(pair))
	})
}

func handleLogout(authService authService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := authService.Logout(r.Context(), data.RefreshToken); err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, successResponse{Success: true})
	})
}
