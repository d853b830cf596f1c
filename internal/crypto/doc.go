// Package crypto provides the cryptographic primitives for keyguard.
//
// Encryption uses AES-256-GCM with:
//   - 32-byte key derived from the operator secret
//   - 12-byte random nonce per encryption operation
//   - payload layout nonce || ciphertext || tag, no version byte
//
// Key derivation is an explicit strategy chosen by configuration:
//   - pbkdf2: PBKDF2-HMAC-SHA256 over a 16-byte vault salt, at least
//     100,000 iterations (210,000 by default, OWASP minimum)
//   - argon2id: Argon2id over the same salt
//   - mnemonic: a single SHA-256 pass over a mnemonic phrase, no salt.
//     Weaker, and never used unless selected.
//
// Memory safety:
//   - Derived keys live in memguard locked buffers; call Key.Destroy
//   - Use ClearBytes() to zero secrets and plaintext after use
package crypto
