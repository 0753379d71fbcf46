// Package crypto provides the local cryptographic primitives used by qmail.
//
// # Algorithm Suite
//
//   - PBKDF2-HMAC-SHA-256 with 100,000 iterations: derives the 256-bit
//     session key from a user's master passphrase and per-user salt.
//
//   - AES-256-GCM: seals secret keys at rest. A sealed blob is the
//     base64 encoding of nonce (12 bytes) || ciphertext || tag (16 bytes).
//
//   - ML-KEM-768 (NIST FIPS 203) with HKDF-SHA-512 and AES-256-GCM: the
//     development stand-in for the remote lattice oracle. Production
//     deployments delegate asymmetric operations to the Ring-LWE service.
//
// # Security Notes
//
// The session key is derived, never stored. [DeriveSessionKey] cannot tell
// a right passphrase from a wrong one; correctness only shows when
// [OpenSecret] authenticates a stored blob.
//
// Every call to [SealSecret] samples a fresh nonce from crypto/rand. Nonce
// reuse under one key breaks AES-GCM completely.
//
// Keep secret keys out of logs, caches and version control. Callers should
// zero plaintext key material with [Wipe] once it has been used.
package crypto
