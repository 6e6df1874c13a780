package hasher

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt hashes passwords with a per-call random salt embedded in the digest.
type Bcrypt struct {
	cost int
}

func New(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Bcrypt{cost: cost}
}

func (h *Bcrypt) Hash(password string) (string, error) {
	const op = "hasher.Hash"

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(digest), nil
}

// Verify reports whether password matches digest. A malformed digest
// is treated as a mismatch, never an error.
func (h *Bcrypt) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
