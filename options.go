package qmail

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	// MinPassphraseLength is the default minimum master key length.
	MinPassphraseLength = 8

	defaultCacheSize = 256
)

// clientConfig holds configuration for the client.
type clientConfig struct {
	oracle     Oracle
	oracleURL  string
	httpClient *http.Client
	retries    int
	retryOn    []int
	retryDelay time.Duration

	logger        *slog.Logger
	idleTimeout   time.Duration
	now           func() time.Time
	newID         func() string
	senderCopy    bool
	cacheSize     int
	minPassphrase int
}

// Option configures the client.
type Option func(*clientConfig)

// WithOracle sets the crypto oracle. It takes precedence over WithOracleURL.
func WithOracle(o Oracle) Option {
	return func(c *clientConfig) {
		c.oracle = o
	}
}

// WithOracleURL sets the base URL of the oracle proxy, for example
// "https://mail.example.com/api/ring-lwe".
func WithOracleURL(url string) Option {
	return func(c *clientConfig) {
		c.oracleURL = url
	}
}

// WithHTTPClient sets a custom HTTP client for oracle calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithRetries sets the number of retries for oracle calls. Negative
// disables retries.
func WithRetries(count int) Option {
	return func(c *clientConfig) {
		c.retries = count
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
// Default: [408, 429, 500, 502, 503, 504]
func WithRetryOn(statusCodes []int) Option {
	return func(c *clientConfig) {
		c.retryOn = statusCodes
	}
}

// WithRetryDelay sets the base backoff delay between oracle retries.
// Default: 1 second
func WithRetryDelay(d time.Duration) Option {
	return func(c *clientConfig) {
		c.retryDelay = d
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithIdleTimeout locks session gates after d without key use.
// Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.idleTimeout = d
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *clientConfig) {
		c.now = now
	}
}

// WithIDGenerator sets the record id generator. Default: random UUIDs.
func WithIDGenerator(newID func() string) Option {
	return func(c *clientConfig) {
		c.newID = newID
	}
}

// WithSenderCopy makes SendSecure also seal the body for the sender's own
// identity, so the sender can reread sent secure mail.
func WithSenderCopy(enabled bool) Option {
	return func(c *clientConfig) {
		c.senderCopy = enabled
	}
}

// WithCacheSize sets how many opened messages are kept per client.
// Default: 256
func WithCacheSize(n int) Option {
	return func(c *clientConfig) {
		c.cacheSize = n
	}
}

// WithMinPassphraseLength overrides the minimum master key length.
func WithMinPassphraseLength(n int) Option {
	return func(c *clientConfig) {
		c.minPassphrase = n
	}
}
