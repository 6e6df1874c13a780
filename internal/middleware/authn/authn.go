package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	resp "auth_backend/internal/lib/api/response"
	jwtlib "auth_backend/internal/lib/jwt"
	sl "auth_backend/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

const bearerPrefix = "Bearer "

// Identity is the decoded access-token payload handed to protected handlers.
type Identity struct {
	UserID  int64
	TokenID string
}

// contextKey is a private type so no other package can collide with or
// overwrite the attached identity.
type contextKey struct{ name string }

var identityKey = &contextKey{name: "authn identity"}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

type TokenVerifier interface {
	Verify(kind jwtlib.Kind, token string) (jwtlib.Claims, error)
}

// New gates protected routes. A missing header, a malformed scheme, and any
// access-token verify failure all collapse into one 401; expired vs invalid
// is kept apart in the logs only.
func New(log *slog.Logger, tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn.New"

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				log.Warn("missing bearer token")

				unauthenticated(w, r)

				return
			}

			claims, err := tokens.Verify(jwtlib.KindAccess, strings.TrimPrefix(header, bearerPrefix))
			if err != nil {
				if errors.Is(err, jwtlib.ErrTokenExpired) {
					log.Warn("access token expired")
				} else {
					log.Warn("access token rejected", sl.Err(err))
				}

				unauthenticated(w, r)

				return
			}

			uid, err := claims.UserID()
			if err != nil {
				log.Warn("access token has malformed subject", sl.Err(err))

				unauthenticated(w, r)

				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				UserID:  uid,
				TokenID: claims.ID,
			})

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, resp.Error(http.StatusUnauthorized, "Authentication failed"))
}
