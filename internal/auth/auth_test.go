package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"auth_backend/internal/auth"
	"auth_backend/internal/lib/hasher"
	jwtlib "auth_backend/internal/lib/jwt"
	"auth_backend/internal/models"
	"auth_backend/internal/storage"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 30 * 24 * time.Hour
	resetTTL   = 30 * time.Minute
	baseURL    = "http://localhost:8080"
)

type fakeStore struct {
	byEmail map[string]*models.User
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{byEmail: make(map[string]*models.User)}
}

func (s *fakeStore) SaveUser(_ context.Context, u models.User) (int64, error) {
	if _, ok := s.byEmail[u.Email]; ok {
		return 0, storage.ErrUserExists
	}

	s.nextID++
	u.ID = s.nextID
	s.byEmail[u.Email] = &u

	return u.ID, nil
}

func (s *fakeStore) User(_ context.Context, email string) (models.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return models.User{}, storage.ErrUserNotFound
	}

	return *u, nil
}

func (s *fakeStore) UserByID(_ context.Context, id int64) (models.User, error) {
	for _, u := range s.byEmail {
		if u.ID == id {
			return *u, nil
		}
	}

	return models.User{}, storage.ErrUserNotFound
}

func (s *fakeStore) UpdatePassword(_ context.Context, userID int64, passHash string) error {
	for _, u := range s.byEmail {
		if u.ID == userID {
			u.PassHash = passHash
			return nil
		}
	}

	return storage.ErrUserNotFound
}

type fakePublisher struct {
	messages []models.Message
}

func (p *fakePublisher) SendMessage(_ context.Context, msg models.Message) error {
	p.messages = append(p.messages, msg)
	return nil
}

type env struct {
	auth   *auth.Auth
	store  *fakeStore
	pub    *fakePublisher
	tokens *jwtlib.Service
	hasher *hasher.Bcrypt
	now    *time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()

	now := time.Unix(1700000000, 0)

	tokens := jwtlib.New(jwtlib.Secrets{
		Access:  "access-secret",
		Refresh: "refresh-secret",
		Reset:   "reset-secret",
	}, jwtlib.WithTimeFunc(func() time.Time {
		return now
	}))

	store := newFakeStore()
	pub := &fakePublisher{}
	h := hasher.New(bcrypt.MinCost)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &env{
		auth:   auth.New(log, store, store, h, tokens, pub, accessTTL, refreshTTL, resetTTL, baseURL),
		store:  store,
		pub:    pub,
		tokens: tokens,
		hasher: h,
		now:    &now,
	}
}

type failingHasher struct{}

func (failingHasher) Hash(string) (string, error) { return "", errors.New("hash failure") }

func (failingHasher) Verify(string, string) bool { return false }

func TestNewPanicsWhenDecoyHashFails(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := jwtlib.New(jwtlib.Secrets{Access: "a", Refresh: "r", Reset: "p"})

	assert.Panics(t, func() {
		auth.New(log, store, store, failingHasher{}, tokens, pub, accessTTL, refreshTTL, resetTTL, baseURL)
	})
}

func signUpParams(email string) auth.SignUpParams {
	return auth.SignUpParams{
		Email:       email,
		Password:    "p4ssword",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		DateOfBirth: "1990-01-01",
		Phone:       "+3712000000",
	}
}

func TestSignUpThenSignIn(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uid, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)
	require.NotZero(t, uid)

	user, err := e.store.User(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "p4ssword", user.PassHash)

	accessToken, refreshToken, err := e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	require.NoError(t, err)
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, refreshToken)

	claims, err := e.tokens.Verify(jwtlib.KindAccess, accessToken)
	require.NoError(t, err)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uid, got)

	_, err = e.tokens.Verify(jwtlib.KindRefresh, refreshToken)
	assert.NoError(t, err)
}

func TestSignInFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	_, _, err = e.auth.SignIn(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	// Unknown email fails with the same error kind as a wrong password.
	_, _, err = e.auth.SignIn(ctx, "nobody@example.com", "p4ssword")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestSignUpDuplicateEmail(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	_, err = e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestRefreshRotation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uid, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	_, refreshToken, err := e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	require.NoError(t, err)

	newAccess, newRefresh, err := e.auth.Refresh(ctx, refreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, newAccess)
	require.NotEmpty(t, newRefresh)

	claims, err := e.tokens.Verify(jwtlib.KindAccess, newAccess)
	require.NoError(t, err)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uid, got)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	accessToken, _, err := e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	require.NoError(t, err)

	_, _, err = e.auth.Refresh(ctx, accessToken)
	assert.ErrorIs(t, err, jwtlib.ErrTokenInvalid)
}

func TestRefreshExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	_, refreshToken, err := e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	require.NoError(t, err)

	*e.now = e.now.Add(refreshTTL + time.Second)

	_, _, err = e.auth.Refresh(ctx, refreshToken)
	assert.ErrorIs(t, err, jwtlib.ErrTokenExpired)
}

func TestRefreshForMissingUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	_, refreshToken, err := e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	require.NoError(t, err)

	delete(e.store.byEmail, "ada@example.com")

	_, _, err = e.auth.Refresh(ctx, refreshToken)
	assert.ErrorIs(t, err, jwtlib.ErrTokenInvalid)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	e := newEnv(t)

	err := e.auth.ForgotPassword(context.Background(), "nobody@example.com")

	// Reported as success to the caller, with nothing issued or queued.
	assert.NoError(t, err)
	assert.Empty(t, e.pub.messages)
}

func TestForgotPasswordQueuesResetLink(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	uid, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, e.auth.ForgotPassword(ctx, "ada@example.com"))
	require.Len(t, e.pub.messages, 1)

	msg := e.pub.messages[0]
	assert.Equal(t, "ada@example.com", msg.Email)
	assert.Equal(t, string(jwtlib.KindReset), msg.Purpose)
	assert.True(t, strings.HasPrefix(msg.Link, baseURL+"/reset_password?token="))

	claims, err := e.tokens.Verify(jwtlib.KindReset, resetTokenFromLink(t, msg.Link))
	require.NoError(t, err)

	got, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, uid, got)
}

func TestResetPassword(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	require.NoError(t, e.auth.ForgotPassword(ctx, "ada@example.com"))
	require.Len(t, e.pub.messages, 1)

	resetToken := resetTokenFromLink(t, e.pub.messages[0].Link)

	require.NoError(t, e.auth.ResetPassword(ctx, resetToken, "n3w-password"))

	_, _, err = e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, _, err = e.auth.SignIn(ctx, "ada@example.com", "n3w-password")
	assert.NoError(t, err)
}

func TestResetPasswordBadToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.auth.SignUp(ctx, signUpParams("ada@example.com"))
	require.NoError(t, err)

	before, err := e.store.User(ctx, "ada@example.com")
	require.NoError(t, err)

	// Access token is not a reset token.
	accessToken, _, err := e.auth.SignIn(ctx, "ada@example.com", "p4ssword")
	require.NoError(t, err)

	err = e.auth.ResetPassword(ctx, accessToken, "n3w-password")
	assert.ErrorIs(t, err, jwtlib.ErrTokenInvalid)

	// Expired reset token.
	require.NoError(t, e.auth.ForgotPassword(ctx, "ada@example.com"))
	resetToken := resetTokenFromLink(t, e.pub.messages[0].Link)

	*e.now = e.now.Add(resetTTL + time.Second)

	err = e.auth.ResetPassword(ctx, resetToken, "n3w-password")
	assert.ErrorIs(t, err, jwtlib.ErrTokenExpired)

	// No mutation on either failure.
	after, err := e.store.User(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, before.PassHash, after.PassHash)
}

func resetTokenFromLink(t *testing.T, link string) string {
	t.Helper()

	u, err := url.Parse(link)
	require.NoError(t, err)

	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	return token
}
