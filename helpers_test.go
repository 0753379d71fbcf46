package qmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/quantsphere/qmail/store/memstore"
)

// fakeOracle is an in-process stand-in for the lattice oracle. A
// ciphertext names the public key it was made for, and decrypt only
// succeeds with the matching secret key.
type fakeOracle struct {
	mu      sync.Mutex
	next    int
	pubOf   map[string]string // secret -> public
	keygens atomic.Int32
	encs    atomic.Int32
	decs    atomic.Int32

	failKeygen  error
	failDecrypt error
	// onDecrypt runs inside every decrypt call.
	onDecrypt func()
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{pubOf: make(map[string]string)}
}

func (o *fakeOracle) calls() int32 {
	return o.keygens.Load() + o.encs.Load() + o.decs.Load()
}

func (o *fakeOracle) GenerateKeypair(ctx context.Context) (*Keypair, error) {
	o.keygens.Add(1)
	if o.failKeygen != nil {
		return nil, o.failKeygen
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	kp := &Keypair{
		PublicKey: fmt.Sprintf("PK%d", o.next),
		SecretKey: fmt.Sprintf("SK%d", o.next),
	}
	o.pubOf[kp.SecretKey] = kp.PublicKey
	return kp, nil
}

func (o *fakeOracle) EncryptForRecipient(ctx context.Context, publicKey, plaintext string) (string, error) {
	o.encs.Add(1)
	return publicKey + "." + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (o *fakeOracle) DecryptWithOwnKey(ctx context.Context, secretKey, ciphertext string) (string, error) {
	o.decs.Add(1)
	if o.onDecrypt != nil {
		o.onDecrypt()
	}
	if o.failDecrypt != nil {
		return "", o.failDecrypt
	}
	o.mu.Lock()
	pub, ok := o.pubOf[secretKey]
	o.mu.Unlock()

	pk, body, found := strings.Cut(ciphertext, ".")
	if !ok || !found || pk != pub {
		return "", &RemoteCryptoError{Operation: "decrypt", StatusCode: http.StatusUnprocessableEntity, Message: "Upstream error: Unprocessable Entity"}
	}
	pt, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", &RemoteCryptoError{Operation: "decrypt", StatusCode: http.StatusBadRequest}
	}
	return string(pt), nil
}

type testEnv struct {
	client *Client
	store  *memstore.Store
	oracle *fakeOracle
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	st := memstore.New()
	oracle := newFakeOracle()
	client, err := New(st, append([]Option{WithOracle(oracle)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		st.Close()
	})
	return &testEnv{client: client, store: st, oracle: oracle}
}

func (e *testEnv) account(t *testing.T, email string) *Account {
	t.Helper()
	acct, err := e.client.CreateAccount(context.Background(), email)
	if err != nil {
		t.Fatalf("CreateAccount(%s) error = %v", email, err)
	}
	return acct
}

// onboard creates an account with an identity and leaves its gate unlocked.
func (e *testEnv) onboard(t *testing.T, email, passphrase string) (*Account, *Identity) {
	t.Helper()
	acct := e.account(t, email)
	ident, err := e.client.Setup(context.Background(), acct.ID, passphrase, passphrase)
	if err != nil {
		t.Fatalf("Setup(%s) error = %v", email, err)
	}
	return acct, ident
}
