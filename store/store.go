package store

import (
	"context"
	"time"
)

// Store is the transactional object store.
type Store interface {
	// Transact applies ops as one all-or-nothing batch.
	Transact(ctx context.Context, ops ...Op) error

	Account(ctx context.Context, userID string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)

	Identity(ctx context.Context, id string) (*Identity, error)
	// ActiveIdentity returns the user's active identity or ErrNotFound.
	ActiveIdentity(ctx context.Context, userID string) (*Identity, error)
	// Identities lists a user's identities, newest first.
	Identities(ctx context.Context, userID string) ([]*Identity, error)
	// RevokedBefore lists unpurged revoked identities whose LastUsedAt is
	// before cutoff.
	RevokedBefore(ctx context.Context, cutoff time.Time) ([]*Identity, error)

	Mail(ctx context.Context, id string) (*Mail, error)
	// Boxes lists a user's mailbox entries in status, newest first. An
	// empty status lists every entry.
	Boxes(ctx context.Context, userEmail string, status BoxStatus) ([]*Box, error)

	Close() error
}

// Watcher is implemented by stores that push new mailbox entries.
type Watcher interface {
	// WatchBoxes calls fn for every box created for userEmail after the
	// call returns. The returned function cancels the watch and is safe to
	// call more than once.
	WatchBoxes(userEmail string, fn func(*Box)) (cancel func(), err error)
}
