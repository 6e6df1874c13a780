package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jwtlib "auth_backend/internal/lib/jwt"
	sl "auth_backend/internal/lib/logger"
	"auth_backend/internal/models"
	"auth_backend/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// decoyPassword is hashed once at construction; signin burns a compare
// against it when the email is unknown so both failure paths cost one hash.
const decoyPassword = "decoy-password-for-unknown-users"

type Auth struct {
	log         *slog.Logger
	usrSaver    UserSaver
	usrProvider UserProvider
	hasher      Hasher
	tokens      TokenService
	notifier    Publisher
	accessTTL   time.Duration
	refreshTTL  time.Duration
	resetTTL    time.Duration
	baseURL     string
	decoyHash   string
}

type UserSaver interface {
	SaveUser(ctx context.Context, u models.User) (uid int64, err error)
	UpdatePassword(ctx context.Context, userID int64, passHash string) error
}

type UserProvider interface {
	User(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
}

type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

type TokenService interface {
	Issue(kind jwtlib.Kind, userID int64, ttl time.Duration) (string, error)
	Verify(kind jwtlib.Kind, token string) (jwtlib.Claims, error)
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

type SignUpParams struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	DateOfBirth string
	Phone       string
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	hasher Hasher,
	tokens TokenService,
	notifier Publisher,
	accessTTL, refreshTTL, resetTTL time.Duration,
	baseURL string,
) *Auth {
	decoyHash, err := hasher.Hash(decoyPassword)
	if err != nil {
		// Without the decoy hash, signin would leak which failure path it
		// took through timing. Refuse to start degraded.
		panic("auth: failed to hash decoy password: " + err.Error())
	}

	return &Auth{
		log:         log,
		usrSaver:    userSaver,
		usrProvider: userProvider,
		hasher:      hasher,
		tokens:      tokens,
		notifier:    notifier,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		resetTTL:    resetTTL,
		baseURL:     baseURL,
		decoyHash:   decoyHash,
	}
}

// SignUp hashes the password and inserts the user record. New users start
// unverified and active. No tokens are issued here.
func (a *Auth) SignUp(ctx context.Context, params SignUpParams) (int64, error) {
	const op = "auth.SignUp"

	log := a.log.With(slog.String("op", op))

	passHash, err := a.hasher.Hash(params.Password)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := a.usrSaver.SaveUser(ctx, models.User{
		Email:       params.Email,
		PassHash:    passHash,
		FirstName:   params.FirstName,
		LastName:    params.LastName,
		DateOfBirth: params.DateOfBirth,
		Phone:       params.Phone,
		IsVerified:  false,
		IsActive:    true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return 0, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("uid", id))

	return id, nil
}

// SignIn verifies credentials and returns an access/refresh token pair.
// Unknown email and wrong password are indistinguishable to the caller.
func (a *Auth) SignIn(ctx context.Context, email, password string) (accessToken, refreshToken string, err error) {
	const op = "auth.SignIn"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.hasher.Verify(password, a.decoyHash)

			log.Warn("user not found")
			return "", "", ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(password, user.PassHash) {
		log.Info("invalid credentials")
		return "", "", ErrInvalidCredentials
	}

	accessToken, refreshToken, err = a.issuePair(user.ID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user signed in successfully", slog.Int64("uid", user.ID))

	return accessToken, refreshToken, nil
}

// Refresh rotates a valid refresh token into a new access/refresh pair.
// The old refresh token stays valid until its expiry: there is no
// revocation store to retire it in.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	claims, err := a.tokens.Verify(jwtlib.KindRefresh, refreshToken)
	if err != nil {
		log.Warn("refresh token rejected", sl.Err(err))
		return "", "", err
	}

	uid, err := claims.UserID()
	if err != nil {
		return "", "", err
	}

	user, err := a.usrProvider.UserByID(ctx, uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh token subject no longer exists", slog.Int64("uid", uid))
			return "", "", jwtlib.ErrTokenInvalid
		}

		log.Error("failed to load user", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	newAccess, newRefresh, err := a.issuePair(user.ID)
	if err != nil {
		log.Error("failed to issue token pair", sl.Err(err))
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.Int64("uid", user.ID))

	return newAccess, newRefresh, nil
}

// ForgotPassword hands a reset link to the notifier queue. An unknown email
// is reported as success to the caller; only the log and the absence of a
// published message differ.
func (a *Auth) ForgotPassword(ctx context.Context, email string) error {
	const op = "auth.ForgotPassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.usrProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("password reset requested for unknown email")
			return nil
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	resetToken, err := a.tokens.Issue(jwtlib.KindReset, user.ID, a.resetTTL)
	if err != nil {
		log.Error("failed to issue reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := models.Message{
		Email:   user.Email,
		Link:    fmt.Sprintf("%s/reset_password?token=%s", a.baseURL, resetToken),
		Purpose: string(jwtlib.KindReset),
	}

	if err := a.notifier.SendMessage(ctx, msg); err != nil {
		log.Error("failed to publish reset link", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("reset link queued", slog.Int64("uid", user.ID))

	return nil
}

// ResetPassword overwrites the stored password hash for the token's subject.
// Nothing is mutated unless the token verifies as the reset kind.
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	claims, err := a.tokens.Verify(jwtlib.KindReset, resetToken)
	if err != nil {
		log.Warn("reset token rejected", sl.Err(err))
		return err
	}

	uid, err := claims.UserID()
	if err != nil {
		return err
	}

	passHash, err := a.hasher.Hash(newPassword)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.usrSaver.UpdatePassword(ctx, uid, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset", slog.Int64("uid", uid))

	return nil
}

func (a *Auth) issuePair(userID int64) (string, string, error) {
	accessToken, err := a.tokens.Issue(jwtlib.KindAccess, userID, a.accessTTL)
	if err != nil {
		return "", "", err
	}

	refreshToken, err := a.tokens.Issue(jwtlib.KindRefresh, userID, a.refreshTTL)
	if err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}
