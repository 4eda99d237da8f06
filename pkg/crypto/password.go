// Package crypto handles password storage for portal accounts.
package crypto

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// hashCost trades login latency for brute-force resistance.
const hashCost = 12

// ErrEmptyPassword rejects hashing an empty secret.
var ErrEmptyPassword = errors.New("crypto: password must not be empty")

// HashPassword derives a bcrypt hash suitable for storage.
func HashPassword(plain string) ([]byte, error) {
	if plain == "" {
		return nil, ErrEmptyPassword
	}
	return bcrypt.GenerateFromPassword([]byte(plain), hashCost)
}

// ComparePassword reports whether plain matches the stored hash. A nil
// error means the password is correct.
func ComparePassword(hash []byte, plain string) error {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain))
}
