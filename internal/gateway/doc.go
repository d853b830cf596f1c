// Package gateway runs the external program that consumes a decrypted
// key file.
//
// The program gets the scratch copy's absolute path in KEYGUARD_KEY_FILE
// and inherits keyguard's stdin. Its stdout and stderr are passed through
// and also captured in the Result. A non-zero exit is an *ExitError.
package gateway
