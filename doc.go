// Package qmail is the identity and envelope encryption core of a webmail
// client with quantum-secure messaging.
//
// Each user unlocks a session [Gate] with a master key (passphrase). The
// gate derives an AES-256 key with PBKDF2 and a per-user salt and keeps it
// in locked memory. A user's [Identity] is a lattice keypair generated by a
// remote crypto oracle; its private half is stored only sealed under the
// session key. Secure mail bodies are encrypted by the oracle for the
// recipient's active public key and can only be opened by the recipient
// while their gate is unlocked.
//
// Basic usage:
//
//	st := memstore.New()
//	client, err := qmail.New(st, qmail.WithOracleURL("https://mail.example.com/api/ring-lwe"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Onboard: creates the first identity and activates the account
//	_, err = client.Setup(ctx, userID, masterKey, masterKey)
//
//	// Send a secure message
//	mail, err := client.SendSecure(ctx, qmail.Draft{
//	    From: "alice@example.com",
//	    To:   "bob@example.com",
//	    Body: "meet at 5",
//	})
//
//	// The recipient opens it after unlocking their own gate
//	text, err := client.OpenMessage(ctx, mail, "bob@example.com")
//
// All errors can be matched with errors.Is against the sentinels in this
// package; [UserMessage] turns them into text suitable for end users.
package qmail
