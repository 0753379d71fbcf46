package qmail

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantsphere/qmail/internal/crypto"
	"github.com/quantsphere/qmail/store"
)

// ActiveIdentity returns the user's active identity. The boolean is false
// when the user has none, meaning they cannot receive secure mail.
func (c *Client) ActiveIdentity(ctx context.Context, userID string) (*Identity, bool, error) {
	id, err := c.store.ActiveIdentity(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// Identities lists every identity the user has had, newest first.
func (c *Client) Identities(ctx context.Context, userID string) ([]*Identity, error) {
	return c.store.Identities(ctx, userID)
}

// CreateIdentity generates a keypair, seals its private half under key and
// stores it as the user's active identity. On first setup the account is
// activated in the same batch. It fails with ErrIdentityExists if the user
// already has an active identity.
func (c *Client) CreateIdentity(ctx context.Context, userID string, key *KeyHandle) (*Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if key.Owner() != userID {
		return nil, fmt.Errorf("key handle was not issued for user %s: %w", userID, ErrSessionLocked)
	}
	if !key.Valid() {
		return nil, ErrSessionLocked
	}

	acct, err := c.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !key.issuedFor(userID, acct.KeySalt) {
		return nil, fmt.Errorf("key handle does not match the account salt: %w", ErrSessionLocked)
	}
	if _, ok, err := c.ActiveIdentity(ctx, userID); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrIdentityExists
	}

	ident, err := c.newIdentity(ctx, userID, key.seal)
	if err != nil {
		return nil, err
	}

	ops := []store.Op{
		store.RequireNoActiveIdentity{UserID: userID},
		store.CreateIdentity{Identity: *ident},
	}
	if acct.AccountStatus != store.AccountActive {
		ops = append(ops, store.ActivateAccount{UserID: userID})
	}
	if err := c.store.Transact(ctx, ops...); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrIdentityExists, err)
		}
		return nil, err
	}

	c.logger.InfoContext(ctx, "identity created",
		"user_id", userID, "identity_id", ident.ID, "fingerprint", Fingerprint(ident.PublicKey))
	return ident, nil
}

// RotateIdentity replaces the user's active identity with a fresh one.
// The passphrase must be typed twice and must open the current identity's
// sealed key. The old identity is revoked in the same batch that inserts
// the new one, so readers always see exactly one active identity; on any
// failure the old identity stays active.
func (c *Client) RotateIdentity(ctx context.Context, userID, passphrase, confirmation string) (*Identity, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := ValidatePassphrase(passphrase, confirmation, c.minPassphrase); err != nil {
		return nil, err
	}

	acct, err := c.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	salt, err := c.ensureSalt(ctx, acct)
	if err != nil {
		return nil, err
	}

	key, err := crypto.DeriveSessionKey(passphrase, salt)
	if err != nil {
		return nil, &KeyDerivationError{Err: err}
	}
	defer crypto.Wipe(key)

	current, hasCurrent, err := c.ActiveIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	if hasCurrent {
		secret, err := crypto.OpenSecret(current.EncryptedSecretKey, key)
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return nil, &ValidationError{Errors: []string{"Master Key does not match your current identity."}}
		}
		if err != nil {
			return nil, wrapCryptoError(StageEnvelope, err)
		}
		crypto.Wipe(secret)
	}

	ident, err := c.newIdentity(ctx, userID, func(secret []byte) (string, error) {
		return crypto.SealSecret(secret, key)
	})
	if err != nil {
		return nil, err
	}

	var ops []store.Op
	if hasCurrent {
		ops = append(ops,
			store.RequireActiveIdentity{UserID: userID, IdentityID: current.ID},
			store.UpdateIdentityStatus{ID: current.ID, Status: store.IdentityRevoked, LastUsedAt: c.now()},
		)
	} else {
		ops = append(ops, store.RequireNoActiveIdentity{UserID: userID})
	}
	ops = append(ops, store.CreateIdentity{Identity: *ident})
	if acct.AccountStatus != store.AccountActive {
		ops = append(ops, store.ActivateAccount{UserID: userID})
	}

	if err := c.store.Transact(ctx, ops...); err != nil {
		return nil, wrapStoreError(err, nil)
	}

	attrs := []any{"user_id", userID, "identity_id", ident.ID, "fingerprint", Fingerprint(ident.PublicKey)}
	if hasCurrent {
		attrs = append(attrs, "revoked_id", current.ID)
	}
	c.logger.InfoContext(ctx, "identity rotated", attrs...)
	return ident, nil
}

// Setup onboards a user: it validates the master key, unlocks the user's
// gate with it and creates the first identity.
func (c *Client) Setup(ctx context.Context, userID, passphrase, confirmation string) (*Identity, error) {
	if err := ValidatePassphrase(passphrase, confirmation, c.minPassphrase); err != nil {
		return nil, err
	}
	gate, err := c.Unlock(ctx, userID, passphrase)
	if err != nil {
		return nil, err
	}
	handle, err := gate.Handle()
	if err != nil {
		return nil, err
	}
	return c.CreateIdentity(ctx, userID, handle)
}

// newIdentity asks the oracle for a keypair and seals its secret half.
// Nothing is stored.
func (c *Client) newIdentity(ctx context.Context, userID string, seal func([]byte) (string, error)) (*Identity, error) {
	kp, err := c.oracle.GenerateKeypair(ctx)
	if err != nil {
		return nil, wrapOracleError("keygen", err)
	}

	secret := []byte(kp.SecretKey)
	sealed, err := seal(secret)
	crypto.Wipe(secret)
	if err != nil {
		return nil, err
	}

	return &Identity{
		ID:                 c.newID(),
		UserID:             userID,
		PublicKey:          kp.PublicKey,
		EncryptedSecretKey: sealed,
		Status:             store.IdentityActive,
		CreatedAt:          c.now(),
	}, nil
}
