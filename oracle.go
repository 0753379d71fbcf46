package qmail

import (
	"context"

	"github.com/quantsphere/qmail/internal/api"
)

// Keypair is an oracle-generated keypair. Both halves are opaque encoded
// strings. SecretKey must be sealed before it is stored anywhere.
type Keypair struct {
	PublicKey string
	SecretKey string
}

// Oracle is the remote asymmetric crypto service. Implementations must
// not persist or log any key material they are given.
type Oracle interface {
	GenerateKeypair(ctx context.Context) (*Keypair, error)
	EncryptForRecipient(ctx context.Context, publicKey, plaintext string) (string, error)
	DecryptWithOwnKey(ctx context.Context, secretKey, ciphertext string) (string, error)
}

// httpOracle adapts the JSON oracle client to Oracle.
type httpOracle struct {
	client *api.Client
}

// NewHTTPOracle returns an Oracle talking to the oracle proxy at baseURL.
// Only the HTTP, retry and logger options apply.
func NewHTTPOracle(baseURL string, opts ...Option) (Oracle, error) {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.oracleURL = baseURL
	return buildHTTPOracle(cfg)
}

func buildHTTPOracle(cfg *clientConfig) (*httpOracle, error) {
	client, err := api.NewClient(api.Config{
		BaseURL:    cfg.oracleURL,
		HTTPClient: cfg.httpClient,
		MaxRetries: cfg.retries,
		RetryDelay: cfg.retryDelay,
		RetryOn:    cfg.retryOn,
		Logger:     cfg.logger,
	})
	if err != nil {
		return nil, err
	}
	return &httpOracle{client: client}, nil
}

func (o *httpOracle) GenerateKeypair(ctx context.Context) (*Keypair, error) {
	resp, err := o.client.Keygen(ctx)
	if err != nil {
		return nil, wrapOracleError(api.ActionKeygen, err)
	}
	return &Keypair{PublicKey: resp.PublicKey, SecretKey: resp.SecretKey}, nil
}

func (o *httpOracle) EncryptForRecipient(ctx context.Context, publicKey, plaintext string) (string, error) {
	ct, err := o.client.Encrypt(ctx, publicKey, plaintext)
	if err != nil {
		return "", wrapOracleError(api.ActionEncrypt, err)
	}
	return ct, nil
}

func (o *httpOracle) DecryptWithOwnKey(ctx context.Context, secretKey, ciphertext string) (string, error) {
	pt, err := o.client.Decrypt(ctx, secretKey, ciphertext)
	if err != nil {
		return "", wrapOracleError(api.ActionDecrypt, err)
	}
	return pt, nil
}
