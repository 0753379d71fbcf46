package psql

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/quantsphere/qmail/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations is the schema migration source.
var Migrations = &migrate.EmbedFileSystemMigrationSource{
	FileSystem: migrationsFS,
	Root:       "migrations",
}

// Migrate applies pending schema migrations and returns how many ran.
func Migrate(db *sql.DB) (int, error) {
	n, err := migrate.Exec(db, "postgres", Migrations, migrate.Up)
	if err != nil {
		return n, fmt.Errorf("migrate: %w", err)
	}
	return n, nil
}

var schema = []struct {
	Name       string
	Table      any
	PrimaryKey []string
}{
	{"accounts", Account{}, []string{"ID"}},
	{"identities", Identity{}, []string{"ID"}},
	{"mails", Mail{}, []string{"ID"}},
	{"boxes", Box{}, []string{"ID"}},
}

type Account struct {
	ID            string    `db:"id"`
	Email         string    `db:"email"`
	AccountStatus string    `db:"account_status"`
	KeySalt       []byte    `db:"key_salt"`
	CreatedAt     time.Time `db:"created_at"`
}

func (a *Account) record() *store.Account {
	return &store.Account{
		ID:            a.ID,
		Email:         a.Email,
		AccountStatus: store.AccountStatus(a.AccountStatus),
		KeySalt:       a.KeySalt,
		CreatedAt:     a.CreatedAt,
	}
}

type Identity struct {
	ID                 string       `db:"id"`
	UserID             string       `db:"user_id"`
	PublicKey          string       `db:"public_key"`
	EncryptedSecretKey string       `db:"encrypted_secret_key"`
	Status             string       `db:"status"`
	CreatedAt          time.Time    `db:"created_at"`
	LastUsedAt         sql.NullTime `db:"last_used_at"`
	PurgedAt           sql.NullTime `db:"purged_at"`
}

func (i *Identity) record() *store.Identity {
	return &store.Identity{
		ID:                 i.ID,
		UserID:             i.UserID,
		PublicKey:          i.PublicKey,
		EncryptedSecretKey: i.EncryptedSecretKey,
		Status:             store.IdentityStatus(i.Status),
		CreatedAt:          i.CreatedAt,
		LastUsedAt:         i.LastUsedAt.Time,
		PurgedAt:           i.PurgedAt.Time,
	}
}

type Mail struct {
	ID               string    `db:"id"`
	ThreadID         string    `db:"thread_id"`
	Subject          string    `db:"subject"`
	Body             string    `db:"body"`
	SenderEmail      string    `db:"sender_email"`
	RecipientEmail   string    `db:"recipient_email"`
	CreatedAt        time.Time `db:"created_at"`
	IsEncrypted      bool      `db:"is_encrypted"`
	IdentityID       string    `db:"identity_id"`
	SenderBody       string    `db:"sender_body"`
	SenderIdentityID string    `db:"sender_identity_id"`
}

func (m *Mail) record() *store.Mail {
	return &store.Mail{
		ID:               m.ID,
		ThreadID:         m.ThreadID,
		Subject:          m.Subject,
		Body:             m.Body,
		SenderEmail:      m.SenderEmail,
		RecipientEmail:   m.RecipientEmail,
		CreatedAt:        m.CreatedAt,
		IsEncrypted:      m.IsEncrypted,
		IdentityID:       m.IdentityID,
		SenderBody:       m.SenderBody,
		SenderIdentityID: m.SenderIdentityID,
	}
}

type Box struct {
	ID        string         `db:"id"`
	MailID    string         `db:"mail_id"`
	UserEmail string         `db:"user_email"`
	Status    string         `db:"status"`
	Read      bool           `db:"is_read"`
	Labels    pq.StringArray `db:"labels"`
	CreatedAt time.Time      `db:"created_at"`
}

func (b *Box) record() *store.Box {
	return &store.Box{
		ID:        b.ID,
		MailID:    b.MailID,
		UserEmail: b.UserEmail,
		Status:    store.BoxStatus(b.Status),
		Read:      b.Read,
		Labels:    []string(b.Labels),
		CreatedAt: b.CreatedAt,
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
