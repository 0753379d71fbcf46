package api

import (
	"context"
	"fmt"
)

// Keygen asks the oracle for a fresh keypair.
func (c *Client) Keygen(ctx context.Context) (*KeygenResponse, error) {
	var result KeygenResponse
	if err := c.Do(ctx, ActionKeygen, KeygenRequest{}, &result); err != nil {
		return nil, err
	}
	if result.PublicKey == "" || result.SecretKey == "" {
		return nil, fmt.Errorf("keygen: %w", ErrEmptyResponse)
	}
	return &result, nil
}

// Encrypt seals message for the holder of publicKey.
func (c *Client) Encrypt(ctx context.Context, publicKey, message string) (string, error) {
	var result EncryptResponse
	req := EncryptRequest{PublicKey: publicKey, Message: message}
	if err := c.Do(ctx, ActionEncrypt, req, &result); err != nil {
		return "", err
	}
	if result.Ciphertext == "" {
		return "", fmt.Errorf("encrypt: %w", ErrEmptyResponse)
	}
	return result.Ciphertext, nil
}

// Decrypt recovers the plaintext of ciphertext using secretKey. An empty
// message is a valid result.
func (c *Client) Decrypt(ctx context.Context, secretKey, ciphertext string) (string, error) {
	var result DecryptResponse
	req := DecryptRequest{SecretKey: secretKey, Ciphertext: ciphertext}
	if err := c.Do(ctx, ActionDecrypt, req, &result); err != nil {
		return "", err
	}
	return result.Message, nil
}
