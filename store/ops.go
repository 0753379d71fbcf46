package store

import (
	"fmt"
	"time"
)

// Op is one write or guard in a transaction batch.
type Op interface {
	// Validate checks the op is well formed before the batch runs.
	Validate() error
}

// CreateAccount inserts a new account.
type CreateAccount struct {
	Account Account
}

// ActivateAccount marks an account onboarded.
type ActivateAccount struct {
	UserID string
}

// SetAccountSalt stores the key derivation salt. It fails with ErrConflict
// if the account already has one.
type SetAccountSalt struct {
	UserID string
	Salt   []byte
}

// CreateIdentity inserts a new identity.
type CreateIdentity struct {
	Identity Identity
}

// UpdateIdentityStatus changes an identity's status and last-used time.
type UpdateIdentityStatus struct {
	ID         string
	Status     IdentityStatus
	LastUsedAt time.Time
}

// PurgeIdentitySecret erases the sealed secret key of a revoked identity.
type PurgeIdentitySecret struct {
	ID       string
	PurgedAt time.Time
}

// CreateMail inserts a new mail.
type CreateMail struct {
	Mail Mail
}

// CreateBox inserts a new mailbox entry.
type CreateBox struct {
	Box Box
}

// RequireNoActiveIdentity aborts the batch if the user has an active identity.
type RequireNoActiveIdentity struct {
	UserID string
}

// RequireActiveIdentity aborts the batch unless IdentityID is the user's
// active identity.
type RequireActiveIdentity struct {
	UserID     string
	IdentityID string
}

func required(op, field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s requires %s", ErrInvalidOp, op, field)
	}
	return nil
}

func (o CreateAccount) Validate() error {
	if err := required("CreateAccount", "ID", o.Account.ID); err != nil {
		return err
	}
	return required("CreateAccount", "Email", o.Account.Email)
}

func (o ActivateAccount) Validate() error {
	return required("ActivateAccount", "UserID", o.UserID)
}

func (o SetAccountSalt) Validate() error {
	if len(o.Salt) == 0 {
		return fmt.Errorf("%w: SetAccountSalt requires Salt", ErrInvalidOp)
	}
	return required("SetAccountSalt", "UserID", o.UserID)
}

func (o CreateIdentity) Validate() error {
	id := o.Identity
	if err := required("CreateIdentity", "ID", id.ID); err != nil {
		return err
	}
	if err := required("CreateIdentity", "UserID", id.UserID); err != nil {
		return err
	}
	if err := required("CreateIdentity", "PublicKey", id.PublicKey); err != nil {
		return err
	}
	return validStatus(id.Status)
}

func (o UpdateIdentityStatus) Validate() error {
	if err := required("UpdateIdentityStatus", "ID", o.ID); err != nil {
		return err
	}
	return validStatus(o.Status)
}

func (o PurgeIdentitySecret) Validate() error {
	return required("PurgeIdentitySecret", "ID", o.ID)
}

func (o CreateMail) Validate() error {
	m := o.Mail
	if err := required("CreateMail", "ID", m.ID); err != nil {
		return err
	}
	if m.IsEncrypted && m.IdentityID == "" {
		return fmt.Errorf("%w: encrypted mail requires IdentityID", ErrInvalidOp)
	}
	return nil
}

func (o CreateBox) Validate() error {
	if err := required("CreateBox", "ID", o.Box.ID); err != nil {
		return err
	}
	if err := required("CreateBox", "MailID", o.Box.MailID); err != nil {
		return err
	}
	return required("CreateBox", "UserEmail", o.Box.UserEmail)
}

func (o RequireNoActiveIdentity) Validate() error {
	return required("RequireNoActiveIdentity", "UserID", o.UserID)
}

func (o RequireActiveIdentity) Validate() error {
	if err := required("RequireActiveIdentity", "UserID", o.UserID); err != nil {
		return err
	}
	return required("RequireActiveIdentity", "IdentityID", o.IdentityID)
}

func validStatus(s IdentityStatus) error {
	switch s {
	case IdentityActive, IdentityRevoked:
		return nil
	}
	return fmt.Errorf("%w: unknown identity status %q", ErrInvalidOp, s)
}

// ValidateOps validates every op in a batch.
func ValidateOps(ops []Op) error {
	if len(ops) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidOp)
	}
	for i, op := range ops {
		if op == nil {
			return fmt.Errorf("%w: op %d is nil", ErrInvalidOp, i)
		}
		if err := op.Validate(); err != nil {
			return err
		}
	}
	return nil
}
