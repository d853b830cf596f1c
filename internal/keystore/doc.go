// Package keystore keeps named key files encrypted at rest.
//
// Layout, relative to the vault root:
//
//	key/<name>.json                 plaintext scratch copy
//	key/encrypted/<name>.enc        archive: nonce(12) || ciphertext || tag
//	key/encrypted/.vault_salt       16 raw salt bytes
//
// Each credential is in one of four states: Absent, PlaintextOnly,
// CiphertextOnly or Both. Both exists only while an operation is in flight
// or after a crash. EncryptKeyFile and DecryptKeyFile move between states
// and decide from the state, not from ad hoc existence checks.
//
// A Guard owns one credential's scratch copy and removes it when the
// protected scope ends, whichever way it ends:
//
//	guard := store.Guard(name)
//	defer guard.Close()
//	if err := store.DecryptKeyFile(name, key); err != nil {
//		return err
//	}
//	guard.Arm()
//
// A killed process cannot run its guard. Startup reconciliation handles
// whatever such a process leaves behind.
package keystore
