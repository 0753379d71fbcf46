package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, MaxRetries: -1})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestKeygen_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/keygen" {
			t.Errorf("path = %s, want /keygen", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"public_key":"PK","secret_key":"SK"}`))
	})

	kp, err := client.Keygen(context.Background())
	if err != nil {
		t.Fatalf("Keygen() error = %v", err)
	}
	if kp.PublicKey != "PK" || kp.SecretKey != "SK" {
		t.Errorf("Keygen() = %+v", kp)
	}
}

func TestKeygen_EmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"public_key":"PK"}`))
	})

	_, err := client.Keygen(context.Background())
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestEncrypt_WireFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/encrypt" {
			t.Errorf("path = %s, want /encrypt", r.URL.Path)
		}
		var raw map[string]string
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if raw["public_key"] != "PK" || raw["message"] != "meet at 5" {
			t.Errorf("request body = %v", raw)
		}
		w.Write([]byte(`{"ciphertext":"CT"}`))
	})

	ct, err := client.Encrypt(context.Background(), "PK", "meet at 5")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ct != "CT" {
		t.Errorf("Encrypt() = %q, want CT", ct)
	}
}

func TestDecrypt_WireFormat(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decrypt" {
			t.Errorf("path = %s, want /decrypt", r.URL.Path)
		}
		var raw map[string]string
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if raw["secret_key"] != "SK" || raw["ciphertext"] != "CT" {
			t.Errorf("request body = %v", raw)
		}
		w.Write([]byte(`{"message":""}`))
	})

	msg, err := client.Decrypt(context.Background(), "SK", "CT")
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if msg != "" {
		t.Errorf("Decrypt() = %q, want empty message", msg)
	}
}

func TestDecrypt_UpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"Upstream error: Unprocessable Entity"}`))
	})

	_, err := client.Decrypt(context.Background(), "SK", "CT")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("StatusCode = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Action != ActionDecrypt {
		t.Errorf("Action = %q, want decrypt", apiErr.Action)
	}
}

func TestIsAction(t *testing.T) {
	for _, name := range []string{"keygen", "encrypt", "decrypt"} {
		if !IsAction(name) {
			t.Errorf("IsAction(%q) = false", name)
		}
	}
	for _, name := range []string{"", "deleteAll", "Keygen", "keygen/"} {
		if IsAction(name) {
			t.Errorf("IsAction(%q) = true", name)
		}
	}
}
