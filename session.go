package qmail

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/quantsphere/qmail/internal/crypto"
)

// Gate holds one user's passphrase-derived session key. It starts Locked;
// Unlock derives the key and moves it to Unlocked; Lock, Close or the idle
// timeout move it back. The key lives in a memguard enclave and is only
// reachable through a KeyHandle, which stops working once the gate locks.
//
// A Gate is safe for concurrent use.
type Gate struct {
	owner string
	salt  []byte
	idle  time.Duration
	now   func() time.Time

	mu           sync.Mutex
	key          *memguard.Enclave
	gen          uint64
	lastActivity time.Time
	onLock       []func()
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateIdleTimeout locks the gate after d without key use. Zero disables it.
func WithGateIdleTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		g.idle = d
	}
}

// WithGateClock sets the gate's time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// NewGate returns a locked gate deriving keys with salt.
func NewGate(salt []byte, opts ...GateOption) *Gate {
	g := &Gate{
		salt: append([]byte(nil), salt...),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Owner returns the user id the gate belongs to, if any.
func (g *Gate) Owner() string {
	return g.owner
}

// Unlock derives the session key from passphrase. Any passphrase is
// accepted: a wrong one only shows up later, when a sealed key fails to
// open. Unlocking an unlocked gate replaces its key and invalidates
// outstanding handles.
func (g *Gate) Unlock(passphrase string) error {
	key, err := crypto.DeriveSessionKey(passphrase, g.salt)
	if err != nil {
		return &KeyDerivationError{Err: err}
	}
	// NewEnclave wipes key.
	enclave := memguard.NewEnclave(key)

	g.mu.Lock()
	hadKey := g.key != nil
	g.key = enclave
	g.gen++
	g.lastActivity = g.now()
	callbacks := g.callbacks(hadKey)
	g.mu.Unlock()

	runAll(callbacks)
	return nil
}

// Lock discards the session key. It is a no-op on a locked gate.
func (g *Gate) Lock() {
	g.mu.Lock()
	callbacks := g.lockLocked()
	g.mu.Unlock()

	runAll(callbacks)
}

// IsUnlocked reports whether the gate holds a key. An idle gate past its
// timeout locks itself here.
func (g *Gate) IsUnlocked() bool {
	g.mu.Lock()
	callbacks := g.expireLocked()
	unlocked := g.key != nil
	g.mu.Unlock()

	runAll(callbacks)
	return unlocked
}

// Handle returns a capability for the current key, or ErrSessionLocked.
// Obtaining a handle counts as activity.
func (g *Gate) Handle() (*KeyHandle, error) {
	g.mu.Lock()
	callbacks := g.expireLocked()
	if g.key == nil {
		g.mu.Unlock()
		runAll(callbacks)
		return nil, ErrSessionLocked
	}
	g.lastActivity = g.now()
	h := &KeyHandle{gate: g, gen: g.gen}
	g.mu.Unlock()

	return h, nil
}

// OnLock registers fn to run whenever the gate locks or its key is replaced.
func (g *Gate) OnLock(fn func()) {
	g.mu.Lock()
	g.onLock = append(g.onLock, fn)
	g.mu.Unlock()
}

func (g *Gate) expireLocked() []func() {
	if g.key == nil || g.idle <= 0 {
		return nil
	}
	if g.now().Sub(g.lastActivity) < g.idle {
		return nil
	}
	return g.lockLocked()
}

func (g *Gate) lockLocked() []func() {
	if g.key == nil {
		return nil
	}
	g.key = nil
	g.gen++
	return g.callbacks(true)
}

func (g *Gate) callbacks(fire bool) []func() {
	if !fire || len(g.onLock) == 0 {
		return nil
	}
	return append([]func(){}, g.onLock...)
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// open returns the live key buffer if h is still valid.
func (h *KeyHandle) open() (*memguard.LockedBuffer, error) {
	if h == nil || h.gate == nil {
		return nil, ErrSessionLocked
	}
	g := h.gate

	g.mu.Lock()
	callbacks := g.expireLocked()
	if g.key == nil || g.gen != h.gen {
		g.mu.Unlock()
		runAll(callbacks)
		return nil, ErrSessionLocked
	}
	enclave := g.key
	g.lastActivity = g.now()
	g.mu.Unlock()

	buf, err := enclave.Open()
	if err != nil {
		return nil, &KeyDerivationError{Err: fmt.Errorf("open session key: %w", err)}
	}
	return buf, nil
}

// KeyHandle grants use of an unlocked gate's key without exposing it.
// It becomes invalid when the gate locks or is unlocked again.
type KeyHandle struct {
	gate *Gate
	gen  uint64
}

// Valid reports whether the handle can still be used.
func (h *KeyHandle) Valid() bool {
	if h == nil || h.gate == nil {
		return false
	}
	if !h.gate.IsUnlocked() {
		return false
	}
	h.gate.mu.Lock()
	defer h.gate.mu.Unlock()
	return h.gate.gen == h.gen
}

// whileValid runs fn under the gate's lock if h is still valid and reports
// whether it ran. A concurrent Lock either happens before fn, in which case
// fn is skipped, or after it, in which case its callbacks see fn's effects.
func (h *KeyHandle) whileValid(fn func()) bool {
	if h == nil || h.gate == nil {
		return false
	}
	g := h.gate

	g.mu.Lock()
	callbacks := g.expireLocked()
	ok := g.key != nil && g.gen == h.gen
	if ok {
		fn()
	}
	g.mu.Unlock()

	runAll(callbacks)
	return ok
}

// issuedFor reports whether h comes from userID's gate keyed with salt.
func (h *KeyHandle) issuedFor(userID string, salt []byte) bool {
	if h == nil || h.gate == nil || userID == "" {
		return false
	}
	return h.gate.owner == userID && len(salt) > 0 && bytes.Equal(h.gate.salt, salt)
}

// Owner returns the user id of the gate that issued the handle.
func (h *KeyHandle) Owner() string {
	if h == nil || h.gate == nil {
		return ""
	}
	return h.gate.owner
}

// seal encrypts secret under the session key.
func (h *KeyHandle) seal(secret []byte) (string, error) {
	buf, err := h.open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()

	blob, err := crypto.SealSecret(secret, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("seal secret key: %w", err)
	}
	return blob, nil
}

// unseal decrypts a blob sealed under the session key. The caller must
// wipe the result.
func (h *KeyHandle) unseal(blob string) ([]byte, error) {
	buf, err := h.open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	secret, err := crypto.OpenSecret(blob, buf.Bytes())
	if err != nil {
		return nil, wrapCryptoError(StageEnvelope, err)
	}
	return secret, nil
}
