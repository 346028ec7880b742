// Package ledger implements an append-only, hash-chained metadata log.
//
// Every entry records the hash of the previous entry for the same
// resource, so each resource's history forms an independent tamper-evident
// chain. A resource's first entry has an empty prev_hash; there is no
// global genesis record. Entries may optionally carry a PBKDF2-HMAC
// signature derived from a server-held signing key.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger
