package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestGenerateKeypair(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error = %v", err)
	}

	if len(kp.PublicKey) != MLKEMPublicKeySize {
		t.Errorf("PublicKey size = %d, want %d", len(kp.PublicKey), MLKEMPublicKeySize)
	}
	if len(kp.SecretKey) != MLKEMSecretKeySize {
		t.Errorf("SecretKey size = %d, want %d", len(kp.SecretKey), MLKEMSecretKeySize)
	}

	reconstructed, err := KeypairFromSecretKey(kp.SecretKey)
	if err != nil {
		t.Fatalf("KeypairFromSecretKey() error = %v", err)
	}
	if !bytes.Equal(reconstructed.PublicKey, kp.PublicKey) {
		t.Error("embedded public key does not match generated public key")
	}
}

func TestKeypairFromSecretKey_InvalidSize(t *testing.T) {
	_, err := KeypairFromSecretKey(make([]byte, 100))
	if !errors.Is(err, ErrInvalidSecretKeySize) {
		t.Errorf("expected ErrInvalidSecretKeySize, got %v", err)
	}
}

func TestSealForPublicKey_RoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"short", []byte("meet at 5")},
		{"large", bytes.Repeat([]byte("x"), 8192)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := SealForPublicKey(kp.PublicKey, tt.plaintext)
			if err != nil {
				t.Fatalf("SealForPublicKey() error = %v", err)
			}

			opened, err := OpenWithSecretKey(kp.SecretKey, sealed)
			if err != nil {
				t.Fatalf("OpenWithSecretKey() error = %v", err)
			}
			if !bytes.Equal(opened, tt.plaintext) {
				t.Errorf("opened = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestOpenWithSecretKey_OtherRecipient(t *testing.T) {
	alice, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	bob, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}

	sealed, err := SealForPublicKey(alice.PublicKey, []byte("for alice only"))
	if err != nil {
		t.Fatal(err)
	}

	// ML-KEM decapsulation with the wrong key yields a pseudorandom secret,
	// so the failure surfaces at the AEAD layer.
	_, err = OpenWithSecretKey(bob.SecretKey, sealed)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestSealForPublicKey_InvalidPublicKey(t *testing.T) {
	_, err := SealForPublicKey(make([]byte, 32), []byte("x"))
	if !errors.Is(err, ErrInvalidPublicKeySize) {
		t.Errorf("expected ErrInvalidPublicKeySize, got %v", err)
	}
}

func TestOpenWithSecretKey_Truncated(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	_, err = OpenWithSecretKey(kp.SecretKey, make([]byte, MLKEMCiphertextSize))
	if !errors.Is(err, ErrInvalidCiphertextSize) {
		t.Errorf("expected ErrInvalidCiphertextSize, got %v", err)
	}
}
