// Package storage provides the BBolt journal kept next to a keyguard vault.
//
// Database structure uses three buckets:
//   - config: KDF strategy and iterations, vault ID, timestamps
//   - ops: one record per credential with an operation in flight
//   - index: per-credential sizes and seal/unseal times, for status
//
// Nothing secret is stored here. The journal lets status work without a
// password, lets startup notice operations that were cut short, and pins
// the KDF parameters so a config change cannot silently derive a
// different key.
//
// BBolt holds an exclusive file lock while the journal is open. keyguard
// keeps it open for a whole invocation, which serializes operations on a
// vault across processes.
package storage
