package qmail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantsphere/qmail/internal/crypto"
	"github.com/quantsphere/qmail/store"
)

// SealedBody is a message body encrypted for one identity.
type SealedBody struct {
	Ciphertext string
	// IdentityID is the envelope reference stored with the mail.
	IdentityID string
}

// Draft is an outgoing message.
type Draft struct {
	From     string
	To       string
	Subject  string
	Body     string
	ThreadID string
}

// MailboxEntry is a mailbox row with its mail.
type MailboxEntry struct {
	Box  *Box
	Mail *Mail
}

// SealMessage encrypts plaintext for recipient's public key. The recipient
// must be an active identity.
func (c *Client) SealMessage(ctx context.Context, recipient *Identity, plaintext string) (*SealedBody, error) {
	if !recipient.Active() {
		return nil, ErrNoRecipientIdentity
	}
	ct, err := c.oracle.EncryptForRecipient(ctx, recipient.PublicKey, plaintext)
	if err != nil {
		return nil, wrapOracleError("encrypt", err)
	}
	return &SealedBody{Ciphertext: ct, IdentityID: recipient.ID}, nil
}

// RecipientIdentity resolves the active identity for email. It fails with
// ErrNoRecipientIdentity when the address has no account or no active
// identity.
func (c *Client) RecipientIdentity(ctx context.Context, email string) (*Identity, error) {
	acct, err := c.store.AccountByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoRecipientIdentity
	}
	if err != nil {
		return nil, err
	}
	ident, ok, err := c.ActiveIdentity(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoRecipientIdentity
	}
	return ident, nil
}

// Send stores a plaintext message with a sent entry for the sender and an
// inbox entry for the recipient.
func (c *Client) Send(ctx context.Context, d Draft) (*Mail, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateDraft(d); err != nil {
		return nil, err
	}
	m := c.newMail(d)
	m.Body = d.Body
	return c.deliver(ctx, m)
}

// SendSecure seals the body for the recipient's active identity and stores
// it like Send. With WithSenderCopy the body is also sealed for the
// sender's active identity, if they have one.
func (c *Client) SendSecure(ctx context.Context, d Draft) (*Mail, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateDraft(d); err != nil {
		return nil, err
	}

	recipient, err := c.RecipientIdentity(ctx, d.To)
	if err != nil {
		return nil, err
	}
	sealed, err := c.SealMessage(ctx, recipient, d.Body)
	if err != nil {
		return nil, err
	}

	m := c.newMail(d)
	m.IsEncrypted = true
	m.Body = sealed.Ciphertext
	m.IdentityID = sealed.IdentityID

	if c.senderCopy && !sameAddress(d.From, d.To) {
		own, err := c.RecipientIdentity(ctx, d.From)
		switch {
		case err == nil:
			mine, err := c.SealMessage(ctx, own, d.Body)
			if err != nil {
				return nil, err
			}
			m.SenderBody = mine.Ciphertext
			m.SenderIdentityID = mine.IdentityID
		case errors.Is(err, ErrNoRecipientIdentity):
			c.logger.WarnContext(ctx, "sender has no identity, sending without sender copy")
		default:
			return nil, err
		}
	}

	return c.deliver(ctx, m)
}

func validateDraft(d Draft) error {
	var problems []string
	if strings.TrimSpace(d.From) == "" {
		problems = append(problems, "Sender is required.")
	}
	if strings.TrimSpace(d.To) == "" {
		problems = append(problems, "Recipient is required.")
	}
	if len(problems) > 0 {
		return &ValidationError{Errors: problems}
	}
	return nil
}

func (c *Client) newMail(d Draft) *Mail {
	m := &Mail{
		ID:             c.newID(),
		ThreadID:       d.ThreadID,
		Subject:        d.Subject,
		SenderEmail:    strings.TrimSpace(d.From),
		RecipientEmail: strings.TrimSpace(d.To),
		CreatedAt:      c.now(),
	}
	if m.ThreadID == "" {
		m.ThreadID = m.ID
	}
	return m
}

func (c *Client) deliver(ctx context.Context, m *Mail) (*Mail, error) {
	sent := store.Box{
		ID:        c.newID(),
		MailID:    m.ID,
		UserEmail: m.SenderEmail,
		Status:    store.BoxSent,
		Read:      true,
		Labels:    []string{},
		CreatedAt: m.CreatedAt,
	}
	inbox := store.Box{
		ID:        c.newID(),
		MailID:    m.ID,
		UserEmail: m.RecipientEmail,
		Status:    store.BoxInbox,
		Labels:    []string{},
		CreatedAt: m.CreatedAt,
	}
	err := c.store.Transact(ctx,
		store.CreateMail{Mail: *m},
		store.CreateBox{Box: sent},
		store.CreateBox{Box: inbox},
	)
	if err != nil {
		return nil, wrapStoreError(err, nil)
	}

	c.logger.InfoContext(ctx, "mail sent", "mail_id", m.ID, "encrypted", m.IsEncrypted)
	return m, nil
}

// OpenMessage returns the plaintext of m as seen by viewerEmail.
//
// Plaintext mail is returned as is. Secure mail can only be opened by its
// recipient, or by its sender when it carries a sender copy; anyone else
// gets ErrNotDecryptableByYou without any oracle call. Opening requires the
// viewer's gate to be unlocked. Results are cached until the gate locks.
func (c *Client) OpenMessage(ctx context.Context, m *Mail, viewerEmail string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	if m == nil {
		return "", ErrMailNotFound
	}
	if !m.IsEncrypted {
		return m.Body, nil
	}

	identityID, ciphertext, slot := "", "", ""
	switch {
	case sameAddress(viewerEmail, m.RecipientEmail):
		identityID, ciphertext, slot = m.IdentityID, m.Body, "r"
	case sameAddress(viewerEmail, m.SenderEmail) && m.HasSenderCopy():
		identityID, ciphertext, slot = m.SenderIdentityID, m.SenderBody, "s"
	default:
		return "", ErrNotDecryptableByYou
	}

	viewer, err := c.AccountByEmail(ctx, viewerEmail)
	if err != nil {
		return "", err
	}
	gate, err := c.Gate(ctx, viewer.ID)
	if err != nil {
		return "", err
	}
	handle, err := gate.Handle()
	if err != nil {
		return "", err
	}

	cacheKey := viewer.ID + ":" + m.ID + ":" + slot
	var (
		cached string
		hit    bool
	)
	handle.whileValid(func() {
		cached, hit = c.opened.Get(cacheKey)
	})
	if hit {
		return cached, nil
	}

	ident, err := c.store.Identity(ctx, identityID)
	if errors.Is(err, store.ErrNotFound) {
		return "", &DecryptionError{Stage: StageEnvelope, Err: fmt.Errorf("identity %s: %w", identityID, err)}
	}
	if err != nil {
		return "", err
	}
	if ident.UserID != viewer.ID {
		return "", ErrNotDecryptableByYou
	}
	if ident.Purged() {
		return "", &DecryptionError{Stage: StageEnvelope, Err: ErrIdentityPurged}
	}

	secret, err := handle.unseal(ident.EncryptedSecretKey)
	if err != nil {
		return "", err
	}
	pt, err := c.oracle.DecryptWithOwnKey(ctx, string(secret), ciphertext)
	crypto.Wipe(secret)
	if err != nil {
		err = wrapOracleError("decrypt", err)
		var remote *RemoteCryptoError
		if errors.As(err, &remote) && remote.rejected() {
			return "", &DecryptionError{Stage: StageOracle, Err: err}
		}
		return "", err
	}

	// The gate may have locked while the oracle call was in flight.
	handle.whileValid(func() {
		c.opened.Add(cacheKey, pt)
	})
	return pt, nil
}

// OpenByID loads mail id and opens it for viewerEmail.
func (c *Client) OpenByID(ctx context.Context, id, viewerEmail string) (string, error) {
	m, err := c.store.Mail(ctx, id)
	if err != nil {
		return "", wrapStoreError(err, ErrMailNotFound)
	}
	return c.OpenMessage(ctx, m, viewerEmail)
}

// Mailbox lists the entries in one of email's folders, newest first. An
// empty status lists every folder.
func (c *Client) Mailbox(ctx context.Context, email string, status store.BoxStatus) ([]*MailboxEntry, error) {
	boxes, err := c.store.Boxes(ctx, email, status)
	if err != nil {
		return nil, err
	}
	entries := make([]*MailboxEntry, 0, len(boxes))
	for _, b := range boxes {
		m, err := c.store.Mail(ctx, b.MailID)
		if err != nil {
			return nil, wrapStoreError(err, ErrMailNotFound)
		}
		entries = append(entries, &MailboxEntry{Box: b, Mail: m})
	}
	return entries, nil
}

// WatchMailbox calls fn for each new mailbox entry delivered to email.
func (c *Client) WatchMailbox(email string, fn func(*Box)) (func(), error) {
	w, ok := c.store.(store.Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w.WatchBoxes(email, fn)
}

func sameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
