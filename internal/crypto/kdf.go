package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// DeriveSessionKey derives the 256-bit session key from a master passphrase.
//
// The derivation is PBKDF2-HMAC-SHA-256 with [KDFIterations] iterations and
// is deterministic: the key is re-derived every session and never persisted.
// Passphrase policy is the caller's responsibility; an empty passphrase still
// yields a key. The salt must be the owner's persisted per-user salt.
func DeriveSessionKey(passphrase string, salt []byte) ([]byte, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is required", ErrKeyDerivation)
	}
	return pbkdf2.Key([]byte(passphrase), salt, KDFIterations, AESKeySize, sha256.New), nil
}

// NewSalt returns a fresh random per-user salt of [SaltSize] bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if err := readRandom(salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDerivation, err)
	}
	return salt, nil
}
