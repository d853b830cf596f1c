// Package errors defines the error kinds shared across keyguard.
//
// Every error returned by the vault packages wraps exactly one kind so that
// callers can classify failures with errors.Is without string matching:
//
//   - ErrIO: read, write or permission failures on the vault tree
//   - ErrCrypto: authentication mismatch or malformed payload
//   - ErrNotFound: a required file is missing
//   - ErrDerivation: bad salt, empty secret, weak KDF parameters
//   - ErrExternal: the external program failed
//   - ErrState: the vault is in a state the operation cannot proceed from
//
// Import it as kgerrors to avoid shadowing the standard library package.
package errors
