package store

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestSubscriptions_NotifyMatchesMailbox(t *testing.T) {
	subs := NewSubscriptions()

	var got []*Box
	cancel := subs.Subscribe("Bob@Example.com", func(b *Box) {
		got = append(got, b)
	})
	defer cancel()

	subs.Notify(&Box{ID: "1", UserEmail: "bob@example.com"})
	subs.Notify(&Box{ID: "2", UserEmail: "alice@example.com"})

	if len(got) != 1 || got[0].ID != "1" {
		t.Fatalf("got %v, want only box 1", got)
	}
}

func TestSubscriptions_CancelStopsDelivery(t *testing.T) {
	subs := NewSubscriptions()

	var calls atomic.Int32
	cancel := subs.Subscribe("bob@example.com", func(*Box) { calls.Add(1) })

	subs.Notify(&Box{UserEmail: "bob@example.com"})
	cancel()
	cancel()
	subs.Notify(&Box{UserEmail: "bob@example.com"})

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if subs.Len() != 0 {
		t.Errorf("Len() = %d, want 0", subs.Len())
	}
}

func TestSubscriptions_CallbackGetsCopy(t *testing.T) {
	subs := NewSubscriptions()

	subs.Subscribe("bob@example.com", func(b *Box) {
		b.Labels[0] = "mutated"
	})

	box := &Box{UserEmail: "bob@example.com", Labels: []string{"quantum"}}
	subs.Notify(box)

	if box.Labels[0] != "quantum" {
		t.Errorf("callback mutated the original box: %v", box.Labels)
	}
}

func TestSubscriptions_Clear(t *testing.T) {
	subs := NewSubscriptions()

	var calls atomic.Int32
	subs.Subscribe("a@example.com", func(*Box) { calls.Add(1) })
	subs.Subscribe("b@example.com", func(*Box) { calls.Add(1) })
	subs.Clear()

	subs.Notify(&Box{UserEmail: "a@example.com"})
	subs.Notify(&Box{UserEmail: "b@example.com"})

	if calls.Load() != 0 {
		t.Errorf("calls = %d after Clear, want 0", calls.Load())
	}
}

func TestSubscriptions_Concurrent(t *testing.T) {
	subs := NewSubscriptions()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel := subs.Subscribe("bob@example.com", func(*Box) {})
			cancel()
		}()
		go func() {
			defer wg.Done()
			subs.Notify(&Box{UserEmail: "bob@example.com"})
		}()
	}
	wg.Wait()
}
