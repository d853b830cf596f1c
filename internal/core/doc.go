// Package core ties the key file store, the journal and the external
// program together.
//
// A Runner holds the vault lock for its lifetime. Its operations:
//   - Run / RunWithKey: decrypt, hand the scratch copy to the program,
//     seal it again
//   - Encrypt / Decrypt: single state transitions for manual use
//   - Scan / Reconcile: find and repair what a killed process left behind
//   - Rekey: move every archive to a new key
//   - Diff: compare an archive with a leftover scratch copy
//   - Status: password-free overview from the journal index
//
// After a failed program run the failure Policy decides whether the
// scratch copy is sealed (reencrypt) or dropped (discard). Neither leaves
// plaintext behind.
package core
