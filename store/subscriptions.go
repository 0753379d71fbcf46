package store

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

type subscription struct {
	id       string
	email    string
	callback func(*Box)
	active   atomic.Bool
}

// Subscriptions fans new boxes out to per-mailbox callbacks. Callbacks are
// never invoked after their cancel function returns. Store implementations
// embed it to satisfy Watcher.
type Subscriptions struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // email -> subID -> subscription
	nextID atomic.Uint64
}

// NewSubscriptions returns an empty subscription set.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		subs: make(map[string]map[string]*subscription),
	}
}

func mailboxKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Subscribe registers fn for boxes delivered to email.
func (m *Subscriptions) Subscribe(email string, fn func(*Box)) func() {
	key := mailboxKey(email)
	id := strconv.FormatUint(m.nextID.Add(1), 10)

	sub := &subscription{
		id:       id,
		email:    key,
		callback: fn,
	}
	sub.active.Store(true)

	m.mu.Lock()
	if m.subs[key] == nil {
		m.subs[key] = make(map[string]*subscription)
	}
	m.subs[key][id] = sub
	m.mu.Unlock()

	return func() {
		m.unsubscribe(key, id)
	}
}

func (m *Subscriptions) unsubscribe(email, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if boxSubs, ok := m.subs[email]; ok {
		if sub, ok := boxSubs[subID]; ok {
			sub.active.Store(false)
			delete(boxSubs, subID)
			if len(boxSubs) == 0 {
				delete(m.subs, email)
			}
		}
	}
}

// Notify delivers box to the subscribers of its mailbox. Callbacks run
// synchronously without the lock held.
func (m *Subscriptions) Notify(box *Box) {
	key := mailboxKey(box.UserEmail)

	m.mu.RLock()
	boxSubs := m.subs[key]
	if len(boxSubs) == 0 {
		m.mu.RUnlock()
		return
	}
	subs := make([]*subscription, 0, len(boxSubs))
	for _, sub := range boxSubs {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		if sub.active.Load() {
			cp := *box
			cp.Labels = append([]string(nil), box.Labels...)
			sub.callback(&cp)
		}
	}
}

// Len returns the number of live subscriptions.
func (m *Subscriptions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, boxSubs := range m.subs {
		n += len(boxSubs)
	}
	return n
}

// Clear drops every subscription.
func (m *Subscriptions) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, boxSubs := range m.subs {
		for _, sub := range boxSubs {
			sub.active.Store(false)
		}
	}
	m.subs = make(map[string]map[string]*subscription)
}
