package app

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// maxSecretBytes is the longest input bcrypt accepts.
const maxSecretBytes = 72

// validateSecretLength rejects secrets bcrypt cannot hash.
func validateSecretLength(secret string) error {
	if len(secret) > maxSecretBytes {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidRequest, maxSecretBytes)
	}
	return nil
}

// HashSecret returns the bcrypt hash of a client credential or teller password.
func HashSecret(secret string) (string, error) {
	if err := validateSecretLength(secret); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// secretVerifier compares secrets against bcrypt hashes. When the principal does
// not exist it still runs a comparison against a throwaway hash so that unknown
// ids and wrong secrets take the same time.
type secretVerifier struct {
	once  sync.Once
	dummy []byte
}

func (v *secretVerifier) verify(hash, secret string, known bool) bool {
	if !known {
		v.once.Do(func() {
			v.dummy, _ = bcrypt.GenerateFromPassword([]byte("ledger-dummy-secret"), bcrypt.DefaultCost)
		})
		_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(secret))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
