package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	key1, err := DeriveSessionKey("correct-horse-battery", salt)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	key2, err := DeriveSessionKey("correct-horse-battery", salt)
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}

	if len(key1) != AESKeySize {
		t.Errorf("key length = %d, want %d", len(key1), AESKeySize)
	}
	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase and salt produced different keys")
	}
}

func TestDeriveSessionKey_Inputs(t *testing.T) {
	base, err := DeriveSessionKey("correct-horse-battery", []byte("salt-one-salt-one"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		passphrase string
		salt       []byte
	}{
		{"different passphrase", "wrong-pass", []byte("salt-one-salt-one")},
		{"different salt", "correct-horse-battery", []byte("salt-two-salt-two")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := DeriveSessionKey(tt.passphrase, tt.salt)
			if err != nil {
				t.Fatal(err)
			}
			if bytes.Equal(key, base) {
				t.Error("expected a different key")
			}
		})
	}
}

func TestDeriveSessionKey_EmptyPassphraseAllowed(t *testing.T) {
	key, err := DeriveSessionKey("", []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveSessionKey() error = %v", err)
	}
	if len(key) != AESKeySize {
		t.Errorf("key length = %d, want %d", len(key), AESKeySize)
	}
}

func TestDeriveSessionKey_MissingSalt(t *testing.T) {
	_, err := DeriveSessionKey("correct-horse-battery", nil)
	if !errors.Is(err, ErrKeyDerivation) {
		t.Errorf("expected ErrKeyDerivation, got %v", err)
	}
}

func TestNewSalt(t *testing.T) {
	s1, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}
	s2, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error = %v", err)
	}

	if len(s1) != SaltSize {
		t.Errorf("salt length = %d, want %d", len(s1), SaltSize)
	}
	if bytes.Equal(s1, s2) {
		t.Error("two salts are identical")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("rng unavailable") }

func TestNewSalt_RandFailure(t *testing.T) {
	restore := SetRandReaderForTesting(failingReader{})
	defer restore()

	_, err := NewSalt()
	if !errors.Is(err, ErrKeyDerivation) {
		t.Errorf("expected ErrKeyDerivation, got %v", err)
	}
}
