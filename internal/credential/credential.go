// Package credential derives and verifies password keys.
//
// Hashing uses scrypt with parameters fixed at compile time, so a stored
// (salt, key) pair stays verifiable for the lifetime of the row. Both
// functions are pure; the caller owns persistence.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. Changing these invalidates every stored key.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
	keyLen  = 32
	saltLen = 16
)

// NewSalt returns a fresh random salt for a new credential.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Hash derives the key for (password, salt). Deterministic for a given
// pair; a derivation failure (bad parameters, resource exhaustion) is
// returned as an error.
func Hash(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Verify recomputes the derived key and compares it to expectedKey in
// constant time. A mismatch is a normal false result, not an error.
func Verify(password string, salt, expectedKey []byte) (bool, error) {
	key, err := Hash(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
