// Package psql implements store.Store on PostgreSQL.
//
// The single-active-identity rule is backed by a partial unique index, and
// new mailbox entries are pushed to watchers with LISTEN/NOTIFY.
package psql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-gorp/gorp/v3"
	"github.com/lib/pq"

	"github.com/quantsphere/qmail/store"
)

const notifyChannel = "qmail_box"

// Backend is a PostgreSQL store.Store and store.Watcher.
type Backend struct {
	*gorp.DbMap

	dsn    string
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	closed   bool
	subs     *store.Subscriptions
	listener *pq.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

var (
	_ store.Store   = (*Backend)(nil)
	_ store.Watcher = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Open connects to dsn. When migrate is true, pending migrations run first.
func Open(dsn string, migrate bool, opts ...Option) (*Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if migrate {
		if _, err := Migrate(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	b := NewBackend(db, dsn, opts...)
	b.logger.Info("psql store opened", "dsn", redactDSN(dsn))
	return b, nil
}

// NewBackend wraps an open database. dsn is needed only for WatchBoxes.
func NewBackend(db *sql.DB, dsn string, opts ...Option) *Backend {
	b := &Backend{
		DbMap:  &gorp.DbMap{Db: db, Dialect: gorp.PostgresDialect{}},
		dsn:    dsn,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		subs:   store.NewSubscriptions(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, item := range schema {
		b.DbMap.AddTableWithName(item.Table, item.Name).SetKeys(false, item.PrimaryKey...)
	}
	return b
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return "(dsn)"
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxxx")
	return u.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Transact implements store.Store.
func (b *Backend) Transact(ctx context.Context, ops ...store.Op) error {
	if err := store.ValidateOps(ops); err != nil {
		return err
	}

	t, err := b.DbMap.Begin()
	if err != nil {
		return err
	}

	rollback := func() {
		if err := t.Rollback(); err != nil {
			b.logger.ErrorContext(ctx, "rollback error", "error", err)
		}
	}

	tx := t.WithContext(ctx)
	for i, op := range ops {
		if err := b.apply(tx, op); err != nil {
			rollback()
			if isUniqueViolation(err) {
				return fmt.Errorf("op %d (%T): %w: %v", i, op, store.ErrConflict, err)
			}
			return fmt.Errorf("op %d (%T): %w", i, op, err)
		}
	}

	if err := t.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (b *Backend) apply(tx gorp.SqlExecutor, op store.Op) error {
	now := b.now()

	switch o := op.(type) {
	case store.CreateAccount:
		a := o.Account
		row := &Account{
			ID:            a.ID,
			Email:         a.Email,
			AccountStatus: string(a.AccountStatus),
			KeySalt:       a.KeySalt,
			CreatedAt:     a.CreatedAt,
		}
		if row.AccountStatus == "" {
			row.AccountStatus = string(store.AccountPending)
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		return tx.Insert(row)

	case store.ActivateAccount:
		return expectRows(tx.Exec(
			"UPDATE accounts SET account_status = $2 WHERE id = $1",
			o.UserID, string(store.AccountActive)))

	case store.SetAccountSalt:
		res, err := tx.Exec(
			"UPDATE accounts SET key_salt = $2 WHERE id = $1 AND key_salt IS NULL",
			o.UserID, o.Salt)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		if _, err := lockAccount(tx, o.UserID); err != nil {
			return err
		}
		return fmt.Errorf("%w: account %s already has a salt", store.ErrConflict, o.UserID)

	case store.CreateIdentity:
		i := o.Identity
		row := &Identity{
			ID:                 i.ID,
			UserID:             i.UserID,
			PublicKey:          i.PublicKey,
			EncryptedSecretKey: i.EncryptedSecretKey,
			Status:             string(i.Status),
			CreatedAt:          i.CreatedAt,
			LastUsedAt:         nullTime(i.LastUsedAt),
			PurgedAt:           nullTime(i.PurgedAt),
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		return tx.Insert(row)

	case store.UpdateIdentityStatus:
		return expectRows(tx.Exec(
			"UPDATE identities SET status = $2, last_used_at = $3 WHERE id = $1",
			o.ID, string(o.Status), nullTime(o.LastUsedAt)))

	case store.PurgeIdentitySecret:
		purgedAt := o.PurgedAt
		if purgedAt.IsZero() {
			purgedAt = now
		}
		res, err := tx.Exec(
			"UPDATE identities SET encrypted_secret_key = '', purged_at = $2 WHERE id = $1 AND status = $3",
			o.ID, purgedAt, string(store.IdentityRevoked))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		var count int64
		count, err = tx.SelectInt("SELECT count(*) FROM identities WHERE id = $1", o.ID)
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("identity %s: %w", o.ID, store.ErrNotFound)
		}
		return fmt.Errorf("%w: identity %s is not revoked", store.ErrConflict, o.ID)

	case store.CreateMail:
		m := o.Mail
		row := &Mail{
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
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		return tx.Insert(row)

	case store.CreateBox:
		bx := o.Box
		row := &Box{
			ID:        bx.ID,
			MailID:    bx.MailID,
			UserEmail: bx.UserEmail,
			Status:    string(bx.Status),
			Read:      bx.Read,
			Labels:    pq.StringArray(bx.Labels),
			CreatedAt: bx.CreatedAt,
		}
		if row.Status == "" {
			row.Status = string(store.BoxInbox)
		}
		if row.Labels == nil {
			row.Labels = pq.StringArray{}
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		return tx.Insert(row)

	case store.RequireNoActiveIdentity:
		if _, err := lockAccount(tx, o.UserID); err != nil {
			return err
		}
		id, err := selectNullStr(tx,
			"SELECT id FROM identities WHERE user_id = $1 AND status = $2",
			o.UserID, string(store.IdentityActive))
		if err != nil {
			return err
		}
		if id.Valid {
			return fmt.Errorf("%w: user %s already has active identity %s", store.ErrConflict, o.UserID, id.String)
		}
		return nil

	case store.RequireActiveIdentity:
		if _, err := lockAccount(tx, o.UserID); err != nil {
			return err
		}
		id, err := selectNullStr(tx,
			"SELECT id FROM identities WHERE user_id = $1 AND status = $2",
			o.UserID, string(store.IdentityActive))
		if err != nil {
			return err
		}
		if !id.Valid || id.String != o.IdentityID {
			return fmt.Errorf("%w: identity %s is not active for user %s", store.ErrConflict, o.IdentityID, o.UserID)
		}
		return nil
	}

	return fmt.Errorf("%w: unsupported op %T", store.ErrInvalidOp, op)
}

// lockAccount takes a row lock on the account so guards in concurrent
// batches for the same user serialize.
func lockAccount(tx gorp.SqlExecutor, userID string) (string, error) {
	id, err := selectNullStr(tx, "SELECT id FROM accounts WHERE id = $1 FOR UPDATE", userID)
	if err != nil {
		return "", err
	}
	if !id.Valid {
		return "", fmt.Errorf("account %s: %w", userID, store.ErrNotFound)
	}
	return id.String, nil
}

func selectNullStr(tx gorp.SqlExecutor, query string, args ...any) (sql.NullString, error) {
	v, err := tx.SelectNullStr(query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return sql.NullString{}, nil
	}
	return v, err
}

func expectRows(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *Backend) selectOne(ctx context.Context, holder any, query string, args ...any) error {
	err := b.DbMap.WithContext(ctx).SelectOne(holder, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

// Account implements store.Store.
func (b *Backend) Account(ctx context.Context, userID string) (*store.Account, error) {
	var row Account
	if err := b.selectOne(ctx, &row, "SELECT * FROM accounts WHERE id = $1", userID); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// AccountByEmail implements store.Store.
func (b *Backend) AccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	var row Account
	err := b.selectOne(ctx, &row, "SELECT * FROM accounts WHERE lower(email) = lower($1)", strings.TrimSpace(email))
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

// Identity implements store.Store.
func (b *Backend) Identity(ctx context.Context, id string) (*store.Identity, error) {
	var row Identity
	if err := b.selectOne(ctx, &row, "SELECT * FROM identities WHERE id = $1", id); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// ActiveIdentity implements store.Store.
func (b *Backend) ActiveIdentity(ctx context.Context, userID string) (*store.Identity, error) {
	var row Identity
	err := b.selectOne(ctx, &row,
		"SELECT * FROM identities WHERE user_id = $1 AND status = $2",
		userID, string(store.IdentityActive))
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (b *Backend) identities(ctx context.Context, query string, args ...any) ([]*store.Identity, error) {
	var rows []Identity
	if _, err := b.DbMap.WithContext(ctx).Select(&rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*store.Identity, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

// Identities implements store.Store.
func (b *Backend) Identities(ctx context.Context, userID string) ([]*store.Identity, error) {
	return b.identities(ctx,
		"SELECT * FROM identities WHERE user_id = $1 ORDER BY created_at DESC, (status = 'active') DESC",
		userID)
}

// RevokedBefore implements store.Store.
func (b *Backend) RevokedBefore(ctx context.Context, cutoff time.Time) ([]*store.Identity, error) {
	return b.identities(ctx,
		"SELECT * FROM identities WHERE status = $1 AND purged_at IS NULL AND last_used_at < $2 ORDER BY last_used_at",
		string(store.IdentityRevoked), cutoff)
}

// Mail implements store.Store.
func (b *Backend) Mail(ctx context.Context, id string) (*store.Mail, error) {
	var row Mail
	if err := b.selectOne(ctx, &row, "SELECT * FROM mails WHERE id = $1", id); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// Boxes implements store.Store.
func (b *Backend) Boxes(ctx context.Context, userEmail string, status store.BoxStatus) ([]*store.Box, error) {
	var rows []Box
	var err error
	exec := b.DbMap.WithContext(ctx)
	if status == "" {
		_, err = exec.Select(&rows,
			"SELECT * FROM boxes WHERE lower(user_email) = lower($1) ORDER BY created_at DESC, id DESC",
			userEmail)
	} else {
		_, err = exec.Select(&rows,
			"SELECT * FROM boxes WHERE lower(user_email) = lower($1) AND status = $2 ORDER BY created_at DESC, id DESC",
			userEmail, string(status))
	}
	if err != nil {
		return nil, err
	}
	out := make([]*store.Box, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

func (b *Backend) box(ctx context.Context, id string) (*store.Box, error) {
	var row Box
	if err := b.selectOne(ctx, &row, "SELECT * FROM boxes WHERE id = $1", id); err != nil {
		return nil, err
	}
	return row.record(), nil
}

// WatchBoxes implements store.Watcher. The first call starts a LISTEN
// connection that lives until Close.
func (b *Backend) WatchBoxes(userEmail string, fn func(*store.Box)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, store.ErrClosed
	}
	if b.listener == nil {
		if err := b.startListener(); err != nil {
			return nil, err
		}
	}
	return b.subs.Subscribe(userEmail, fn), nil
}

func (b *Backend) startListener() error {
	if b.dsn == "" {
		return fmt.Errorf("psql: watching requires a dsn")
	}
	listener := pq.NewListener(b.dsn, 200*time.Millisecond, 5*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logger.Warn("pq listener event", "event", int(ev), "error", err)
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return fmt.Errorf("pq listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.listener = listener
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.background(ctx, listener)
	b.logger.Info("pq listener started")
	return nil
}

func (b *Backend) background(ctx context.Context, listener *pq.Listener) {
	defer close(b.done)

	keepalive := time.NewTicker(90 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if err := listener.Ping(); err != nil {
				b.logger.Warn("pq listener ping failed", "error", err)
			}
		case notice := <-listener.Notify:
			// A nil notice follows a reconnect; deliveries in the gap are lost.
			if notice == nil {
				continue
			}
			box, err := b.box(ctx, notice.Extra)
			if err != nil {
				b.logger.Warn("box notify lookup failed", "box_id", notice.Extra, "error", err)
				continue
			}
			b.subs.Notify(box)
		}
	}
}

// Close stops the listener and closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel, done, listener := b.cancel, b.done, b.listener
	b.mu.Unlock()

	b.subs.Clear()
	if cancel != nil {
		cancel()
		<-done
		listener.Close()
	}
	return b.DbMap.Db.Close()
}
