package qmail

import (
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// fingerprintPrefix marks qmail key fingerprints.
const fingerprintPrefix = "qm1"

// Fingerprint returns a short printable digest of an encoded public key,
// for users to compare identities out of band.
func Fingerprint(publicKey string) string {
	sum := blake2b.Sum256([]byte(publicKey))
	return fingerprintPrefix + base58.Encode(sum[:])
}

// ShortFingerprint returns the first characters of Fingerprint.
func ShortFingerprint(publicKey string) string {
	fp := Fingerprint(publicKey)
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
