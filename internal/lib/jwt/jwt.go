package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token is expired")
)

// Kind selects which secret signs a token and which purpose marker it carries.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindReset   Kind = "password_reset"
)

// Secrets holds the three signing secrets. They must be disjoint so a token
// leaked from one purpose cannot be replayed as another.
type Secrets struct {
	Access  string
	Refresh string
	Reset   string
}

type Claims struct {
	jwt.RegisteredClaims
	Kind Kind `json:"token_kind"`
}

// UserID decodes the subject claim back into the store-assigned user id.
func (c Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}

	return id, nil
}

type Service struct {
	secrets Secrets
	now     func() time.Time
}

type Option func(*Service)

// WithTimeFunc overrides the clock used for issued-at and expiry checks.
func WithTimeFunc(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(secrets Secrets, opts ...Option) *Service {
	s := &Service{
		secrets: secrets,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) Issue(kind Kind, userID int64, ttl time.Duration) (string, error) {
	const op = "jwt.Issue"

	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind: kind,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret(kind))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// Verify checks signature and expiry against the secret of the requested kind
// and rejects tokens whose purpose marker names a different kind, even when
// the signature is valid for that secret.
func (s *Service) Verify(kind Kind, tokenStr string) (Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret(kind), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}

		return Claims{}, ErrTokenInvalid
	}

	if !parsed.Valid || claims.Kind != kind {
		return Claims{}, ErrTokenInvalid
	}

	return *claims, nil
}

func (s *Service) secret(kind Kind) []byte {
	switch kind {
	case KindRefresh:
		return []byte(s.secrets.Refresh)
	case KindReset:
		return []byte(s.secrets.Reset)
	default:
		return []byte(s.secrets.Access)
	}
}
