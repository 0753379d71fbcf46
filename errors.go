package qmail

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/quantsphere/qmail/internal/api"
	"github.com/quantsphere/qmail/internal/crypto"
	"github.com/quantsphere/qmail/store"
)

// Sentinel errors for errors.Is() checks
var (
	// ErrMissingStore is returned when New is called without a store.
	ErrMissingStore = errors.New("store is required")

	// ErrMissingOracle is returned when no oracle or oracle URL is configured.
	ErrMissingOracle = errors.New("crypto oracle is required")

	// ErrClientClosed is returned when operations are attempted on a closed client.
	ErrClientClosed = errors.New("client has been closed")

	// ErrKeyDerivation is returned when the session key cannot be derived.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrDecryptionFailed is returned when a sealed key or message cannot
	// be opened. A wrong passphrase surfaces as this error.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrRemoteCrypto is returned when the crypto oracle is unreachable or
	// answers with a non-2xx status.
	ErrRemoteCrypto = errors.New("remote crypto error")

	// ErrNoRecipientIdentity is returned when the recipient has no active identity.
	ErrNoRecipientIdentity = errors.New("recipient has no active identity")

	// ErrSessionLocked is returned when a private key is needed but the
	// session gate is locked.
	ErrSessionLocked = errors.New("session is locked")

	// ErrNotDecryptableByYou is returned when the viewer holds no key that
	// can open the message, such as the sender of a secure message sent
	// without a sender copy.
	ErrNotDecryptableByYou = errors.New("message is not decryptable by you")

	// ErrIdentityExists is returned when creating an identity for a user
	// who already has an active one.
	ErrIdentityExists = errors.New("active identity already exists")

	// ErrConflict is returned when a concurrent change invalidated the
	// operation. The caller should restart it from scratch.
	ErrConflict = errors.New("conflicting concurrent change")

	// ErrAccountNotFound is returned when no account matches.
	ErrAccountNotFound = errors.New("account not found")

	// ErrMailNotFound is returned when a mail does not exist.
	ErrMailNotFound = errors.New("mail not found")

	// ErrIdentityPurged is returned when the identity's sealed key was
	// erased by retention.
	ErrIdentityPurged = errors.New("identity secret has been purged")

	// ErrMissingSalt is returned when an account has identities but no
	// key derivation salt, so its passphrase key cannot be rebuilt.
	ErrMissingSalt = errors.New("account has no key salt")

	// ErrWatchUnsupported is returned when the store cannot push new mail.
	ErrWatchUnsupported = errors.New("store does not support watching")
)

// QMailError is implemented by all typed errors of this package.
type QMailError interface {
	error
	QMailError() // marker method
}

// KeyDerivationError reports that the passphrase key could not be derived.
type KeyDerivationError struct {
	Err error
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("key derivation failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *KeyDerivationError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *KeyDerivationError) Is(target error) bool {
	return target == ErrKeyDerivation
}

// QMailError implements the QMailError interface.
func (e *KeyDerivationError) QMailError() {}

// Decryption stages.
const (
	// StageEnvelope is opening the sealed private key with the session key.
	StageEnvelope = "envelope"
	// StageOracle is the oracle decrypting the message body.
	StageOracle = "oracle"
)

// DecryptionError represents a failure to open a sealed key or message.
type DecryptionError struct {
	Stage string
	Err   error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed at %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptionError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptionError) Is(target error) bool {
	return target == ErrDecryptionFailed
}

// QMailError implements the QMailError interface.
func (e *DecryptionError) QMailError() {}

// RemoteCryptoError represents a failed oracle call. StatusCode is zero when
// the oracle could not be reached.
type RemoteCryptoError struct {
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteCryptoError) Error() string {
	if e.StatusCode != 0 {
		if e.Message != "" {
			return fmt.Sprintf("oracle %s failed with %d: %s", e.Operation, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("oracle %s failed with %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("oracle %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *RemoteCryptoError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *RemoteCryptoError) Is(target error) bool {
	return target == ErrRemoteCrypto
}

// QMailError implements the QMailError interface.
func (e *RemoteCryptoError) QMailError() {}

// rejected reports whether the oracle refused the request itself, as
// opposed to being unavailable.
func (e *RemoteCryptoError) rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusRequestTimeout
}

// ValidationError contains one or more input validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Errors)
}

// QMailError implements the QMailError interface.
func (e *ValidationError) QMailError() {}

// wrapOracleError converts internal API errors to RemoteCryptoError.
func wrapOracleError(op string, err error) error {
	if err == nil {
		return nil
	}

	var remote *RemoteCryptoError
	if errors.As(err, &remote) {
		return err
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return &RemoteCryptoError{
			Operation:  op,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	return &RemoteCryptoError{Operation: op, Err: err}
}

// wrapStoreError maps store errors to public sentinels.
func wrapStoreError(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return fmt.Errorf("%w: %w", notFound, err)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

// wrapCryptoError maps internal crypto failures to public errors.
func wrapCryptoError(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, crypto.ErrKeyDerivation) {
		return &KeyDerivationError{Err: err}
	}
	return &DecryptionError{Stage: stage, Err: err}
}

// UserMessage returns a short, non-technical description of err suitable
// for showing to an end user.
func UserMessage(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		if len(vErr.Errors) > 0 {
			return vErr.Errors[0]
		}
		return "Please check your input."
	case errors.Is(err, ErrNotDecryptableByYou):
		return "You cannot read this secure message. Only its recipient can."
	case errors.Is(err, ErrSessionLocked):
		return "Unlock quantum mode with your master key to read secure mail."
	case errors.Is(err, ErrIdentityPurged):
		return "The key for this message has been retired and can no longer open it."
	case errors.Is(err, ErrDecryptionFailed):
		return "Failed to decrypt message. Check your master key and try again."
	case errors.Is(err, ErrNoRecipientIdentity):
		return "Recipient has no secure identity."
	case errors.Is(err, ErrIdentityExists):
		return "You already have an active quantum identity."
	case errors.Is(err, ErrConflict):
		return "Your keys changed while this was running. Please try again."
	case errors.Is(err, ErrKeyDerivation):
		return "Failed to process your master key."
	case errors.Is(err, ErrRemoteCrypto):
		return "The encryption service is unavailable. Please try again."
	case errors.Is(err, ErrAccountNotFound):
		return "Account not found."
	}
	return "Something went wrong. Please try again."
}
