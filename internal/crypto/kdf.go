package crypto

import (
	"crypto/sha256"
	"fmt"
	"math"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

const (
	DefaultIters = 210000         // Default PBKDF2 iterations (OWASP minimum)
	MinIters     = 100000         // Anything below is rejected
	MaxIters     = math.MaxUint32 // The journal pins iterations as uint32

	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MiB
	argonThreads = 4
)

var (
	ErrEmptySecret  = fmt.Errorf("%w: secret must not be empty", kgerrors.ErrDerivation)
	ErrInvalidSalt  = fmt.Errorf("%w: salt must be %d bytes", kgerrors.ErrDerivation, SaltSize)
	ErrWeakParams   = fmt.Errorf("%w: iterations below %d", kgerrors.ErrDerivation, MinIters)
	ErrTooManyIters = fmt.Errorf("%w: iterations above %d", kgerrors.ErrDerivation, uint64(MaxIters))
	ErrUnknownStrat = fmt.Errorf("%w: unknown key derivation strategy", kgerrors.ErrDerivation)
)

// Strategy selects how an operator secret becomes a key.
type Strategy string

const (
	StrategyPBKDF2   Strategy = "pbkdf2"
	StrategyArgon2id Strategy = "argon2id"
	StrategyMnemonic Strategy = "mnemonic"
)

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyPBKDF2, StrategyArgon2id, StrategyMnemonic:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrat, s)
}

// UsesSalt reports whether the strategy mixes in the vault salt.
func (s Strategy) UsesSalt() bool {
	return s != StrategyMnemonic
}

// KDF handles key derivation from operator secrets
type KDF struct {
	Strategy   Strategy
	Iterations int
}

// NewKDF creates a KDF for the given strategy with default parameters
func NewKDF(strategy Strategy) *KDF {
	return &KDF{
		Strategy:   strategy,
		Iterations: DefaultIters,
	}
}

// Validate checks the parameters without deriving anything
func (k *KDF) Validate() error {
	if _, err := ParseStrategy(string(k.Strategy)); err != nil {
		return err
	}
	if k.Strategy == StrategyPBKDF2 && k.Iterations < MinIters {
		return fmt.Errorf("%w (got %d)", ErrWeakParams, k.Iterations)
	}
	if k.Strategy == StrategyPBKDF2 && uint64(k.Iterations) > MaxIters {
		return fmt.Errorf("%w (got %d)", ErrTooManyIters, k.Iterations)
	}
	return nil
}

// DeriveKey derives an encryption key from secret and the vault salt.
// secret is not modified; the caller clears it.
func (k *KDF) DeriveKey(secret, salt []byte) (*Key, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if k.Strategy.UsesSalt() && len(salt) != SaltSize {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidSalt, len(salt))
	}

	var raw []byte
	switch k.Strategy {
	case StrategyPBKDF2:
		raw = pbkdf2.Key(secret, salt, k.Iterations, KeySize, sha256.New)
	case StrategyArgon2id:
		raw = argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, KeySize)
	case StrategyMnemonic:
		sum := sha256.Sum256(secret)
		raw = sum[:]
	}
	return NewKey(raw)
}

// Derive is PBKDF2-HMAC-SHA256 with the default iteration count.
func Derive(secret, salt []byte) (*Key, error) {
	return NewKDF(StrategyPBKDF2).DeriveKey(secret, salt)
}

// DeriveFromMnemonic hashes a mnemonic phrase once with SHA-256.
// It is much cheaper to brute force than Derive and has to be chosen
// explicitly.
func DeriveFromMnemonic(mnemonic []byte) (*Key, error) {
	return NewKDF(StrategyMnemonic).DeriveKey(mnemonic, nil)
}
