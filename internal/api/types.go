package api

// Action names accepted by the oracle and its proxy.
const (
	ActionKeygen  = "keygen"
	ActionEncrypt = "encrypt"
	ActionDecrypt = "decrypt"
)

// Actions lists every oracle verb. Anything else is rejected by the proxy.
var Actions = []string{ActionKeygen, ActionEncrypt, ActionDecrypt}

// IsAction reports whether name is one of the three oracle verbs.
func IsAction(name string) bool {
	for _, a := range Actions {
		if a == name {
			return true
		}
	}
	return false
}

// KeygenRequest is the body of POST /keygen.
type KeygenRequest struct{}

// KeygenResponse is the response of POST /keygen.
type KeygenResponse struct {
	PublicKey string `json:"public_key"`
	SecretKey string `json:"secret_key"`
}

// EncryptRequest is the body of POST /encrypt.
type EncryptRequest struct {
	PublicKey string `json:"public_key"`
	Message   string `json:"message"`
}

// EncryptResponse is the response of POST /encrypt.
type EncryptResponse struct {
	Ciphertext string `json:"ciphertext"`
}

// DecryptRequest is the body of POST /decrypt.
type DecryptRequest struct {
	SecretKey  string `json:"secret_key"`
	Ciphertext string `json:"ciphertext"`
}

// DecryptResponse is the response of POST /decrypt.
type DecryptResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the JSON error body produced by the proxy.
type ErrorResponse struct {
	Error string `json:"error"`
}
