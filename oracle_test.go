package qmail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newOracleServer(t *testing.T, handler http.HandlerFunc) Oracle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewHTTPOracle(srv.URL, WithRetries(-1))
	if err != nil {
		t.Fatalf("NewHTTPOracle() error = %v", err)
	}
	return o
}

func TestHTTPOracle_Verbs(t *testing.T) {
	o := newOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/keygen":
			json.NewEncoder(w).Encode(map[string]string{"public_key": "pk", "secret_key": "sk"})
		case "/encrypt":
			json.NewEncoder(w).Encode(map[string]string{"ciphertext": body["public_key"] + "|" + body["message"]})
		case "/decrypt":
			json.NewEncoder(w).Encode(map[string]string{"message": "pt:" + body["secret_key"]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	kp, err := o.GenerateKeypair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if kp.PublicKey != "pk" || kp.SecretKey != "sk" {
		t.Errorf("GenerateKeypair() = %+v", kp)
	}

	ct, err := o.EncryptForRecipient(ctx, "pk", "hello")
	if err != nil || ct != "pk|hello" {
		t.Errorf("EncryptForRecipient() = %q, %v", ct, err)
	}

	pt, err := o.DecryptWithOwnKey(ctx, "sk", ct)
	if err != nil || pt != "pt:sk" {
		t.Errorf("DecryptWithOwnKey() = %q, %v", pt, err)
	}
}

func TestHTTPOracle_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"upstream", http.StatusBadGateway, `{"error":"Upstream error: Bad Gateway"}`, "Upstream error: Bad Gateway"},
		{"invalid action", http.StatusBadRequest, `{"error":"Invalid action"}`, "Invalid action"},
		{"plain text", http.StatusServiceUnavailable, "down for maintenance", "down for maintenance"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOracleServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := o.GenerateKeypair(context.Background())
			if !errors.Is(err, ErrRemoteCrypto) {
				t.Fatalf("error = %v, want ErrRemoteCrypto", err)
			}
			var remote *RemoteCryptoError
			if !errors.As(err, &remote) {
				t.Fatalf("error %T is not *RemoteCryptoError", err)
			}
			if remote.StatusCode != tt.status || remote.Message != tt.wantMsg || remote.Operation != "keygen" {
				t.Errorf("RemoteCryptoError = %+v", remote)
			}
		})
	}
}

func TestHTTPOracle_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	o, err := NewHTTPOracle(url, WithRetries(-1))
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.EncryptForRecipient(context.Background(), "pk", "m")
	var remote *RemoteCryptoError
	if !errors.As(err, &remote) || remote.StatusCode != 0 {
		t.Fatalf("error = %v, want network RemoteCryptoError", err)
	}
}

func TestHTTPOracle_Retries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	o, err := NewHTTPOracle(srv.URL, WithRetries(3), WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	pt, err := o.DecryptWithOwnKey(context.Background(), "sk", "ct")
	if err != nil || pt != "ok" {
		t.Fatalf("DecryptWithOwnKey() = %q, %v", pt, err)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestNewHTTPOracle_RequiresURL(t *testing.T) {
	if _, err := NewHTTPOracle(""); err == nil {
		t.Error("expected error for empty base URL")
	}
}
