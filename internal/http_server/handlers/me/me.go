package me

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	resp "auth_backend/internal/lib/api/response"
	sl "auth_backend/internal/lib/logger"
	"auth_backend/internal/middleware/authn"
	"auth_backend/internal/models"
	"auth_backend/internal/storage"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Profile struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"dob"`
	Phone       string `json:"phone_number"`
	IsVerified  bool   `json:"verified"`
	IsActive    bool   `json:"active"`
}

type UserProvider interface {
	UserByID(ctx context.Context, id int64) (models.User, error)
}

// New serves the profile of the identity the authn middleware attached.
func New(
	log *slog.Logger,
	usrProvider UserProvider,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.me.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		identity, ok := authn.IdentityFromContext(r.Context())
		if !ok {
			log.Warn("no identity in request context")

			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error(http.StatusUnauthorized, "Authentication failed"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		user, err := usrProvider.UserByID(ctx, identity.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrUserNotFound) {
				log.Warn("authenticated user no longer exists", slog.Int64("uid", identity.UserID))

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error(http.StatusUnauthorized, "Authentication failed"))

				return
			}

			log.Error("failed to load user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error(http.StatusInternalServerError, "Internal error"))

			return
		}

		render.JSON(w, r, resp.OK(http.StatusOK, "OK", Profile{
			ID:          user.ID,
			Email:       user.Email,
			FirstName:   user.FirstName,
			LastName:    user.LastName,
			DateOfBirth: user.DateOfBirth,
			Phone:       user.Phone,
			IsVerified:  user.IsVerified,
			IsActive:    user.IsActive,
		}))
	}
}
