// Package retention erases the sealed secret keys of identities that have
// been revoked for longer than a configured period.
//
// A purged identity keeps its public key and history, but mail sealed for it
// can no longer be opened. Retention is off unless a positive period is
// configured.
package retention
