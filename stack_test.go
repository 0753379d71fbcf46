package qmail

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/quantsphere/qmail/internal/api"
	"github.com/quantsphere/qmail/internal/devoracle"
	"github.com/quantsphere/qmail/internal/proxy"
	"github.com/quantsphere/qmail/store/memstore"
)

// stack runs the client against the proxy in front of the ML-KEM dev
// oracle, counting requests that reach the oracle.
type stack struct {
	client   *Client
	proxyURL string
	upstream atomic.Int32
}

func newStack(t *testing.T) *stack {
	t.Helper()
	s := &stack{}

	oracle := devoracle.New(nil)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.upstream.Add(1)
		oracle.ServeHTTP(w, r)
	}))
	t.Cleanup(upstream.Close)

	p, err := proxy.New(proxy.Config{Upstream: upstream.URL, Prefix: "/api/ring-lwe"})
	if err != nil {
		t.Fatal(err)
	}
	front := httptest.NewServer(p)
	t.Cleanup(front.Close)
	s.proxyURL = front.URL + "/api/ring-lwe"

	st := memstore.New()
	s.client, err = New(st, WithOracleURL(s.proxyURL), WithRetries(-1))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.client.Close()
		st.Close()
	})
	return s
}

func TestStack_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	alice, err := s.client.CreateAccount(ctx, "alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.client.CreateAccount(ctx, "bob@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.client.Setup(ctx, alice.ID, "correct-horse-battery", "correct-horse-battery"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	mail, err := s.client.SendSecure(ctx, Draft{From: "bob@example.com", To: "alice@example.com", Body: "meet at 5"})
	if err != nil {
		t.Fatalf("SendSecure() error = %v", err)
	}
	if strings.Contains(mail.Body, "meet at 5") {
		t.Fatal("stored body contains plaintext")
	}

	s.client.Lock(alice.ID)
	if _, err := s.client.Unlock(ctx, alice.ID, "correct-horse-battery"); err != nil {
		t.Fatal(err)
	}
	got, err := s.client.OpenMessage(ctx, mail, "alice@example.com")
	if err != nil {
		t.Fatalf("OpenMessage() error = %v", err)
	}
	if got != "meet at 5" {
		t.Errorf("OpenMessage() = %q", got)
	}

	s.client.Lock(alice.ID)
	s.client.Unlock(ctx, alice.ID, "wrong-pass")
	before := s.upstream.Load()
	_, err = s.client.OpenMessage(ctx, mail, "alice@example.com")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("OpenMessage() with wrong master key error = %v", err)
	}
	if s.upstream.Load() != before {
		t.Error("oracle reached with an unopened secret key")
	}

	before = s.upstream.Load()
	if _, err := s.client.OpenMessage(ctx, mail, "bob@example.com"); !errors.Is(err, ErrNotDecryptableByYou) {
		t.Errorf("sender OpenMessage() error = %v", err)
	}
	if s.upstream.Load() != before {
		t.Error("oracle reached for the sender")
	}
}

func TestStack_ProxyRejectsUnknownAction(t *testing.T) {
	s := newStack(t)
	c, err := api.New(s.proxyURL, api.WithRetries(-1))
	if err != nil {
		t.Fatal(err)
	}

	err = c.Do(context.Background(), "deleteAll", struct{}{}, nil)
	if !errors.Is(err, api.ErrInvalidAction) {
		t.Fatalf("Do(deleteAll) error = %v, want ErrInvalidAction", err)
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if s.upstream.Load() != 0 {
		t.Errorf("upstream calls = %d, want 0", s.upstream.Load())
	}
}
