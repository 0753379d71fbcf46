// Package store defines the transactional object store consumed by qmail.
//
// A store holds four record kinds: accounts, identities, mails and mailbox
// entries. All writes are expressed as [Op] values and submitted through
// [Store.Transact], which applies the whole batch or none of it. Guard ops
// such as [RequireNoActiveIdentity] let callers make a batch conditional on
// the state the store holds at commit time; a failed guard aborts the batch
// with [ErrConflict].
//
// Two implementations ship with the module: store/memstore for tests and
// single-process use, and store/psql backed by PostgreSQL.
package store
