package store

import "time"

// IdentityStatus is the lifecycle state of an identity.
type IdentityStatus string

const (
	IdentityActive  IdentityStatus = "active"
	IdentityRevoked IdentityStatus = "revoked"
)

// AccountStatus tracks onboarding.
type AccountStatus string

const (
	AccountPending AccountStatus = "pending"
	AccountActive  AccountStatus = "active"
)

// BoxStatus is the folder a mailbox entry lives in.
type BoxStatus string

const (
	BoxInbox   BoxStatus = "inbox"
	BoxSent    BoxStatus = "sent"
	BoxArchive BoxStatus = "archive"
	BoxTrash   BoxStatus = "trash"
)

// Account is the user owning identities. Its ID is the user id.
type Account struct {
	ID            string
	Email         string
	AccountStatus AccountStatus
	// KeySalt is the per-user salt for passphrase key derivation.
	KeySalt   []byte
	CreatedAt time.Time
}

// Identity is a user's asymmetric keypair with the private half sealed
// under the user's passphrase-derived key.
type Identity struct {
	ID                 string
	UserID             string
	PublicKey          string
	EncryptedSecretKey string
	Status             IdentityStatus
	CreatedAt          time.Time
	// LastUsedAt is set when the identity is revoked.
	LastUsedAt time.Time
	// PurgedAt is set once EncryptedSecretKey has been erased.
	PurgedAt time.Time
}

// Active reports whether the identity is the user's current one.
func (i *Identity) Active() bool {
	return i != nil && i.Status == IdentityActive
}

// Purged reports whether the sealed secret key has been erased.
func (i *Identity) Purged() bool {
	return i != nil && !i.PurgedAt.IsZero()
}

// Mail is a stored message. When IsEncrypted is set, Body holds the oracle
// ciphertext for the identity named by IdentityID.
type Mail struct {
	ID             string
	ThreadID       string
	Subject        string
	Body           string
	SenderEmail    string
	RecipientEmail string
	CreatedAt      time.Time
	IsEncrypted    bool
	IdentityID     string
	// SenderBody optionally holds a second ciphertext sealed for the
	// sender's identity SenderIdentityID.
	SenderBody       string
	SenderIdentityID string
}

// HasSenderCopy reports whether the sender can open their own message.
func (m *Mail) HasSenderCopy() bool {
	return m.SenderBody != "" && m.SenderIdentityID != ""
}

// Box links a mail into one user's mailbox.
type Box struct {
	ID        string
	MailID    string
	UserEmail string
	Status    BoxStatus
	Read      bool
	Labels    []string
	CreatedAt time.Time
}
