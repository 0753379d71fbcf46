package crypto

import "encoding/base64"

// ToBase64 encodes bytes to standard base64 with padding. Sealed secrets
// and oracle key material use this form.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes standard base64 with padding.
func FromBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
