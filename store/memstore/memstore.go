// Package memstore is an in-memory implementation of store.Store.
//
// Each transaction runs against a private copy of the state which replaces
// the live state only if every op succeeds, so readers never observe a
// partially applied batch. A commit hook can fail batches on demand for
// testing.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantsphere/qmail/store"
)

// CommitHook runs before a validated batch is applied. A non-nil error
// aborts the batch.
type CommitHook func(ops []store.Op) error

// Store is an in-memory store.Store and store.Watcher.
type Store struct {
	mu     sync.RWMutex
	state  *state
	hook   CommitHook
	closed bool
	subs   *store.Subscriptions
	now    func() time.Time
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Watcher = (*Store)(nil)
)

type state struct {
	accounts   map[string]store.Account
	identities map[string]store.Identity
	mails      map[string]store.Mail
	boxes      map[string]store.Box
}

func newState() *state {
	return &state{
		accounts:   make(map[string]store.Account),
		identities: make(map[string]store.Identity),
		mails:      make(map[string]store.Mail),
		boxes:      make(map[string]store.Box),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:   make(map[string]store.Account, len(s.accounts)),
		identities: make(map[string]store.Identity, len(s.identities)),
		mails:      make(map[string]store.Mail, len(s.mails)),
		boxes:      make(map[string]store.Box, len(s.boxes)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.identities {
		c.identities[k] = v
	}
	for k, v := range s.mails {
		c.mails[k] = v
	}
	for k, v := range s.boxes {
		c.boxes[k] = v
	}
	return c
}

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook that can veto batches.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) {
		s.hook = h
	}
}

// WithClock sets the time source used for default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		state: newState(),
		subs:  store.NewSubscriptions(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCommitHook replaces the commit hook. Passing nil removes it.
func (s *Store) SetCommitHook(h CommitHook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

// FailNext makes the next batch fail with err.
func (s *Store) FailNext(err error) {
	var once sync.Once
	s.SetCommitHook(func([]store.Op) error {
		var out error
		once.Do(func() { out = err })
		return out
	})
}

// Transact implements store.Store.
func (s *Store) Transact(ctx context.Context, ops ...store.Op) error {
	if err := store.ValidateOps(ops); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	if s.hook != nil {
		if err := s.hook(ops); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	next := s.state.clone()
	var created []store.Box
	for i, op := range ops {
		box, err := s.apply(next, op)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("op %d (%T): %w", i, op, err)
		}
		if box != nil {
			created = append(created, *box)
		}
	}
	if err := checkSingleActive(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()

	for i := range created {
		s.subs.Notify(&created[i])
	}
	return nil
}

func (s *Store) apply(st *state, op store.Op) (*store.Box, error) {
	switch o := op.(type) {
	case store.CreateAccount:
		if _, ok := st.accounts[o.Account.ID]; ok {
			return nil, fmt.Errorf("%w: account %s exists", store.ErrConflict, o.Account.ID)
		}
		for _, a := range st.accounts {
			if strings.EqualFold(a.Email, o.Account.Email) {
				return nil, fmt.Errorf("%w: email %s taken", store.ErrConflict, o.Account.Email)
			}
		}
		a := o.Account
		a.KeySalt = append([]byte(nil), a.KeySalt...)
		if a.AccountStatus == "" {
			a.AccountStatus = store.AccountPending
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = s.now()
		}
		st.accounts[a.ID] = a

	case store.ActivateAccount:
		a, ok := st.accounts[o.UserID]
		if !ok {
			return nil, fmt.Errorf("account %s: %w", o.UserID, store.ErrNotFound)
		}
		a.AccountStatus = store.AccountActive
		st.accounts[a.ID] = a

	case store.SetAccountSalt:
		a, ok := st.accounts[o.UserID]
		if !ok {
			return nil, fmt.Errorf("account %s: %w", o.UserID, store.ErrNotFound)
		}
		if len(a.KeySalt) > 0 {
			return nil, fmt.Errorf("%w: account %s already has a salt", store.ErrConflict, o.UserID)
		}
		a.KeySalt = append([]byte(nil), o.Salt...)
		st.accounts[a.ID] = a

	case store.CreateIdentity:
		if _, ok := st.identities[o.Identity.ID]; ok {
			return nil, fmt.Errorf("%w: identity %s exists", store.ErrConflict, o.Identity.ID)
		}
		id := o.Identity
		if id.CreatedAt.IsZero() {
			id.CreatedAt = s.now()
		}
		st.identities[id.ID] = id

	case store.UpdateIdentityStatus:
		id, ok := st.identities[o.ID]
		if !ok {
			return nil, fmt.Errorf("identity %s: %w", o.ID, store.ErrNotFound)
		}
		id.Status = o.Status
		id.LastUsedAt = o.LastUsedAt
		st.identities[id.ID] = id

	case store.PurgeIdentitySecret:
		id, ok := st.identities[o.ID]
		if !ok {
			return nil, fmt.Errorf("identity %s: %w", o.ID, store.ErrNotFound)
		}
		if id.Status != store.IdentityRevoked {
			return nil, fmt.Errorf("%w: identity %s is not revoked", store.ErrConflict, o.ID)
		}
		id.EncryptedSecretKey = ""
		id.PurgedAt = o.PurgedAt
		if id.PurgedAt.IsZero() {
			id.PurgedAt = s.now()
		}
		st.identities[id.ID] = id

	case store.CreateMail:
		if _, ok := st.mails[o.Mail.ID]; ok {
			return nil, fmt.Errorf("%w: mail %s exists", store.ErrConflict, o.Mail.ID)
		}
		m := o.Mail
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.now()
		}
		st.mails[m.ID] = m

	case store.CreateBox:
		if _, ok := st.boxes[o.Box.ID]; ok {
			return nil, fmt.Errorf("%w: box %s exists", store.ErrConflict, o.Box.ID)
		}
		if _, ok := st.mails[o.Box.MailID]; !ok {
			return nil, fmt.Errorf("mail %s: %w", o.Box.MailID, store.ErrNotFound)
		}
		b := o.Box
		b.Labels = append([]string(nil), b.Labels...)
		if b.Status == "" {
			b.Status = store.BoxInbox
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = s.now()
		}
		st.boxes[b.ID] = b
		return &b, nil

	case store.RequireNoActiveIdentity:
		if id, ok := activeFor(st, o.UserID); ok {
			return nil, fmt.Errorf("%w: user %s already has active identity %s", store.ErrConflict, o.UserID, id.ID)
		}

	case store.RequireActiveIdentity:
		id, ok := activeFor(st, o.UserID)
		if !ok || id.ID != o.IdentityID {
			return nil, fmt.Errorf("%w: identity %s is not active for user %s", store.ErrConflict, o.IdentityID, o.UserID)
		}

	default:
		return nil, fmt.Errorf("%w: unsupported op %T", store.ErrInvalidOp, op)
	}
	return nil, nil
}

func activeFor(st *state, userID string) (store.Identity, bool) {
	for _, id := range st.identities {
		if id.UserID == userID && id.Status == store.IdentityActive {
			return id, true
		}
	}
	return store.Identity{}, false
}

func checkSingleActive(st *state) error {
	seen := make(map[string]string)
	for _, id := range st.identities {
		if id.Status != store.IdentityActive {
			continue
		}
		if other, ok := seen[id.UserID]; ok {
			return fmt.Errorf("%w: user %s has active identities %s and %s", store.ErrConflict, id.UserID, other, id.ID)
		}
		seen[id.UserID] = id.ID
	}
	return nil
}

func (s *Store) read(ctx context.Context) (*state, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return s.state, nil
}

// Account implements store.Store.
func (s *Store) Account(ctx context.Context, userID string) (*store.Account, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	a, ok := st.accounts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	a.KeySalt = append([]byte(nil), a.KeySalt...)
	return &a, nil
}

// AccountByEmail implements store.Store. Emails match case-insensitively.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range st.accounts {
		if strings.EqualFold(a.Email, email) {
			a.KeySalt = append([]byte(nil), a.KeySalt...)
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

// Identity implements store.Store.
func (s *Store) Identity(ctx context.Context, id string) (*store.Identity, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	ident, ok := st.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ident, nil
}

// ActiveIdentity implements store.Store.
func (s *Store) ActiveIdentity(ctx context.Context, userID string) (*store.Identity, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	ident, ok := activeFor(st, userID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ident, nil
}

// Identities implements store.Store.
func (s *Store) Identities(ctx context.Context, userID string) ([]*store.Identity, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*store.Identity
	for _, id := range st.identities {
		if id.UserID == userID {
			id := id
			out = append(out, &id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Active()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RevokedBefore implements store.Store.
func (s *Store) RevokedBefore(ctx context.Context, cutoff time.Time) ([]*store.Identity, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*store.Identity
	for _, id := range st.identities {
		if id.Status == store.IdentityRevoked && id.PurgedAt.IsZero() && id.LastUsedAt.Before(cutoff) {
			id := id
			out = append(out, &id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.Before(out[j].LastUsedAt)
	})
	return out, nil
}

// Mail implements store.Store.
func (s *Store) Mail(ctx context.Context, id string) (*store.Mail, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := st.mails[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

// Boxes implements store.Store.
func (s *Store) Boxes(ctx context.Context, userEmail string, status store.BoxStatus) ([]*store.Box, error) {
	st, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	var out []*store.Box
	for _, b := range st.boxes {
		if !strings.EqualFold(b.UserEmail, userEmail) {
			continue
		}
		if status != "" && b.Status != status {
			continue
		}
		b := b
		b.Labels = append([]string(nil), b.Labels...)
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// WatchBoxes implements store.Watcher.
func (s *Store) WatchBoxes(userEmail string, fn func(*store.Box)) (func(), error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, store.ErrClosed
	}
	return s.subs.Subscribe(userEmail, fn), nil
}

// Close releases subscriptions. Further calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.subs.Clear()
	return nil
}
