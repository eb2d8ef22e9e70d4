package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"

	"custodia/internal/directory"
)

// PINLength is the number of digits in a generated unlock credential.
const PINLength = 8

// Credential is a single-use unlock secret issued to one party for one
// resolved verification request. Only the bcrypt hash is persisted; the
// plaintext exists once, on the way to the party.
type Credential struct {
	ID        string
	RequestID string
	PartyID   string
	PartyRole directory.Role
	PINHash   string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}

// GeneratePIN returns a high-entropy digit string from crypto/rand.
func GeneratePIN() (string, error) {
	digits := make([]byte, PINLength)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate pin digit: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// HashPIN hashes a plaintext PIN for storage.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(hash), nil
}

// Matches reports whether the plaintext PIN matches this credential.
// A mismatch has no state effect; the credential stays valid and unused.
func (c Credential) Matches(pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(c.PINHash), []byte(pin)) == nil
}
