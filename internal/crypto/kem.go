package crypto

import (
	"crypto/sha256"
	"fmt"
)

// SealForPublicKey encrypts plaintext so that only the holder of the secret
// key matching publicKey can read it.
//
// The sealing process:
//  1. ML-KEM-768 encapsulation against the recipient public key
//  2. HKDF-SHA-512 key derivation from the shared secret and KEM ciphertext
//  3. AES-256-GCM encryption under a fresh nonce
//
// The result is ct_kem (1088 bytes) || nonce (12 bytes) || ciphertext || tag.
func SealForPublicKey(publicKey, plaintext []byte) ([]byte, error) {
	ctKem, sharedSecret, err := Encapsulate(publicKey)
	if err != nil {
		return nil, fmt.Errorf("encapsulate: %w", err)
	}
	defer Wipe(sharedSecret)

	aesKey, err := deriveMessageKey(sharedSecret, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer Wipe(aesKey)

	nonce := make([]byte, AESNonceSize)
	if err := readRandom(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext, err := encryptAESGCM(aesKey, nonce, ctKem, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}

	out := make([]byte, 0, len(ctKem)+len(nonce)+len(ciphertext))
	out = append(out, ctKem...)
	out = append(out, nonce...)
	return append(out, ciphertext...), nil
}

// OpenWithSecretKey reverses [SealForPublicKey].
func OpenWithSecretKey(secretKey, sealed []byte) ([]byte, error) {
	if len(sealed) < MLKEMCiphertextSize+AESNonceSize+AESTagSize {
		return nil, ErrInvalidCiphertextSize
	}

	keypair, err := KeypairFromSecretKey(secretKey)
	if err != nil {
		return nil, err
	}

	ctKem := sealed[:MLKEMCiphertextSize]
	nonce := sealed[MLKEMCiphertextSize : MLKEMCiphertextSize+AESNonceSize]
	ciphertext := sealed[MLKEMCiphertextSize+AESNonceSize:]

	// 1. KEM Decapsulation
	sharedSecret, err := keypair.Decapsulate(ctKem)
	if err != nil {
		return nil, fmt.Errorf("decapsulate: %w", err)
	}
	defer Wipe(sharedSecret)

	// 2. Key Derivation (HKDF-SHA-512)
	aesKey, err := deriveMessageKey(sharedSecret, ctKem)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer Wipe(aesKey)

	// 3. AES-256-GCM Decryption; the KEM ciphertext is bound as AAD.
	return decryptAESGCM(aesKey, nonce, ctKem, ciphertext)
}

// deriveMessageKey performs HKDF-SHA-512 key derivation for the KEM scheme.
//
// The key derivation uses:
//   - IKM (input key material): the KEM shared secret
//   - Salt: SHA-256 hash of the KEM ciphertext
//   - Info: the HKDFContext string
func deriveMessageKey(sharedSecret, ctKem []byte) ([]byte, error) {
	saltHash := sha256.Sum256(ctKem)
	return DeriveKey(sharedSecret, saltHash[:], []byte(HKDFContext), AESKeySize)
}
