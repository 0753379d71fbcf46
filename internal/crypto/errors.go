package crypto

import "errors"

var (
	// ErrKeyDerivation is returned when the session key cannot be derived,
	// e.g. because no salt was supplied or the RNG is unavailable.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrDecryptionFailed is returned when authenticated decryption fails.
	// A wrong key and corrupted data are indistinguishable.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")

	// ErrInvalidBlob is returned when a sealed blob is not valid base64
	// or is too short to hold a nonce and tag.
	ErrInvalidBlob = errors.New("invalid sealed blob")

	// ErrInvalidSecretKeySize is returned when the secret key size is invalid.
	ErrInvalidSecretKeySize = errors.New("invalid secret key size")

	// ErrInvalidPublicKeySize is returned when the public key size is invalid.
	ErrInvalidPublicKeySize = errors.New("invalid public key size")

	// ErrInvalidCiphertextSize is returned when the ciphertext size is invalid.
	ErrInvalidCiphertextSize = errors.New("invalid ciphertext size")
)
