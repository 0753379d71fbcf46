package qmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quantsphere/qmail/internal/crypto"
	"github.com/quantsphere/qmail/store"
)

// Record types are the store's.
type (
	Account  = store.Account
	Identity = store.Identity
	Mail     = store.Mail
	Box      = store.Box
)

// Client ties a store and a crypto oracle together with per-user session
// gates. It is safe for concurrent use.
type Client struct {
	store  store.Store
	oracle Oracle
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	senderCopy    bool
	minPassphrase int
	idleTimeout   time.Duration

	// opened caches plaintexts keyed by "<userID>:<mailID>:<copy>".
	opened *lru.Cache[string, string]

	mu     sync.Mutex
	gates  map[string]*Gate
	closed bool
}

// New creates a client over st. An oracle must be configured with
// WithOracle or WithOracleURL.
func New(st store.Store, opts ...Option) (*Client, error) {
	if st == nil {
		return nil, ErrMissingStore
	}

	cfg := &clientConfig{
		now:           time.Now,
		newID:         uuid.NewString,
		cacheSize:     defaultCacheSize,
		minPassphrase: MinPassphraseLength,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	oracle := cfg.oracle
	if oracle == nil {
		if cfg.oracleURL == "" {
			return nil, ErrMissingOracle
		}
		o, err := buildHTTPOracle(cfg)
		if err != nil {
			return nil, err
		}
		oracle = o
	}

	if cfg.cacheSize <= 0 {
		cfg.cacheSize = defaultCacheSize
	}
	opened, err := lru.New[string, string](cfg.cacheSize)
	if err != nil {
		return nil, err //coverage:ignore
	}

	return &Client{
		store:         st,
		oracle:        oracle,
		logger:        cfg.logger,
		now:           cfg.now,
		newID:         cfg.newID,
		senderCopy:    cfg.senderCopy,
		minPassphrase: cfg.minPassphrase,
		idleTimeout:   cfg.idleTimeout,
		opened:        opened,
		gates:         make(map[string]*Gate),
	}, nil
}

// Store returns the underlying store.
func (c *Client) Store() store.Store {
	return c.store
}

// Close locks every session gate and drops cached plaintexts. The store is
// left open; it belongs to the caller.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	gates := make([]*Gate, 0, len(c.gates))
	for _, g := range c.gates {
		gates = append(gates, g)
	}
	c.gates = nil
	c.mu.Unlock()

	for _, g := range gates {
		g.Lock()
	}
	c.opened.Purge()
	return nil
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// CreateAccount registers a pending account with a fresh key derivation
// salt. Sign-in itself happens elsewhere; this only creates the record the
// identity layer hangs off.
func (c *Client) CreateAccount(ctx context.Context, email string) (*Account, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Errors: []string{"A valid email address is required."}}
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, &KeyDerivationError{Err: err}
	}
	acct := store.Account{
		ID:            c.newID(),
		Email:         email,
		AccountStatus: store.AccountPending,
		KeySalt:       salt,
		CreatedAt:     c.now(),
	}
	if err := c.store.Transact(ctx, store.CreateAccount{Account: acct}); err != nil {
		return nil, wrapStoreError(err, nil)
	}

	c.logger.InfoContext(ctx, "account created", "user_id", acct.ID)
	return &acct, nil
}

// Account returns the account for userID.
func (c *Client) Account(ctx context.Context, userID string) (*Account, error) {
	acct, err := c.store.Account(ctx, userID)
	if err != nil {
		return nil, wrapStoreError(err, ErrAccountNotFound)
	}
	return acct, nil
}

// AccountByEmail returns the account registered for email.
func (c *Client) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	acct, err := c.store.AccountByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, wrapStoreError(err, ErrAccountNotFound)
	}
	return acct, nil
}

// Gate returns the session gate for userID, creating a locked one on first
// use. Accounts without a salt get one here unless they already own
// identities, which fails with ErrMissingSalt.
func (c *Client) Gate(ctx context.Context, userID string) (*Gate, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if g, ok := c.gates[userID]; ok {
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	acct, err := c.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	salt, err := c.ensureSalt(ctx, acct)
	if err != nil {
		return nil, err
	}

	g := NewGate(salt, WithGateIdleTimeout(c.idleTimeout), WithGateClock(c.now))
	g.owner = userID
	g.OnLock(func() {
		c.forget(userID)
		c.logger.Debug("session locked", "user_id", userID)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if existing, ok := c.gates[userID]; ok {
		return existing, nil
	}
	c.gates[userID] = g
	return g, nil
}

// Unlock unlocks userID's gate with passphrase and returns it.
func (c *Client) Unlock(ctx context.Context, userID, passphrase string) (*Gate, error) {
	g, err := c.Gate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := g.Unlock(passphrase); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "session unlocked", "user_id", userID)
	return g, nil
}

// Lock locks userID's gate if one exists.
func (c *Client) Lock(userID string) {
	c.mu.Lock()
	g := c.gates[userID]
	c.mu.Unlock()
	if g != nil {
		g.Lock()
	}
}

func (c *Client) ensureSalt(ctx context.Context, acct *Account) ([]byte, error) {
	if len(acct.KeySalt) > 0 {
		return acct.KeySalt, nil
	}

	ids, err := c.store.Identities(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return nil, fmt.Errorf("%w: user %s", ErrMissingSalt, acct.ID)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, &KeyDerivationError{Err: err}
	}
	err = c.store.Transact(ctx, store.SetAccountSalt{UserID: acct.ID, Salt: salt})
	if errors.Is(err, store.ErrConflict) {
		// Someone else set it first; use theirs.
		fresh, err := c.Account(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		return fresh.KeySalt, nil
	}
	if err != nil {
		return nil, wrapStoreError(err, ErrAccountNotFound)
	}
	return salt, nil
}

func (c *Client) forget(userID string) {
	prefix := userID + ":"
	for _, k := range c.opened.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.opened.Remove(k)
		}
	}
}
