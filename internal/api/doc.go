// Package api provides the HTTP client for the remote lattice crypto oracle.
// The oracle exposes exactly three verbs, each a JSON POST:
//
//   - keygen:  {} -> {"public_key", "secret_key"}
//   - encrypt: {"public_key", "message"} -> {"ciphertext"}
//   - decrypt: {"secret_key", "ciphertext"} -> {"message"}
//
// Requests normally go through the same-origin proxy, so the base URL is the
// proxy prefix (for example "https://mail.example.com/api/ring-lwe").
//
// # Retry Behavior
//
// The client retries failed requests with exponential backoff and jitter.
// By default, requests are retried up to 3 times for these HTTP status codes:
//
//   - 408 Request Timeout
//   - 429 Too Many Requests
//   - 500 Internal Server Error
//   - 502 Bad Gateway
//   - 503 Service Unavailable
//   - 504 Gateway Timeout
//
// # Error Handling
//
// Non-2xx responses become [*APIError] values carrying the status code and the
// proxy's error text; transport failures become [*NetworkError]. Use errors.Is
// with [ErrInvalidAction] or [ErrRateLimited] for the proxy's own rejections.
//
// Request and response bodies are never logged: they carry secret keys and
// plaintext.
//
// # Thread Safety
//
// The [Client] type is safe for concurrent use.
package api
