package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSecretCost is the bcrypt work factor for grant passcodes (2^12 rounds).
const DefaultSecretCost = 12

// HashSecret hashes a low-entropy secret (passcode) with bcrypt at cost.
func HashSecret(secret string, cost int) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is empty")
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultSecretCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifySecret compares a plaintext secret with its stored hash.
func VerifySecret(hash, secret string) error {
	if hash == "" {
		return errors.New("secret hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
}
