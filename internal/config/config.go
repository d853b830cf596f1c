// Package config loads keyguard settings from KEYGUARD_* environment
// variables. Command-line flags override them in cmd/.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/illarion/keyguard/internal/core"
	"github.com/illarion/keyguard/internal/crypto"
	kgerrors "github.com/illarion/keyguard/internal/errors"
)

// Prefix is prepended to every variable name
const Prefix = "KEYGUARD_"

// Config holds settings for one invocation
type Config struct {
	// Root is the vault directory holding key/ and the journal.
	// Env: KEYGUARD_ROOT
	Root string `env:"ROOT,expand" envDefault:"${HOME}/.commune"`

	// KDF selects how secrets become keys for a new vault: pbkdf2,
	// argon2id or mnemonic. Existing vaults keep their pinned choice.
	// Env: KEYGUARD_KDF
	KDF string `env:"KDF" envDefault:"pbkdf2"`

	// Iterations is the PBKDF2 iteration count for a new vault.
	// Env: KEYGUARD_ITERATIONS
	Iterations int `env:"ITERATIONS" envDefault:"210000"`

	// Command is the program run against the decrypted key file.
	// Env: KEYGUARD_COMMAND
	Command string `env:"COMMAND" envDefault:"comx"`

	// OnFailure is reencrypt or discard.
	// Env: KEYGUARD_ON_FAILURE
	OnFailure string `env:"ON_FAILURE" envDefault:"reencrypt"`

	// Env: KEYGUARD_LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`

	// NoKeyring skips the OS keyring when looking for the password.
	// Env: KEYGUARD_NO_KEYRING
	NoKeyring bool `env:"NO_KEYRING"`

	// LockTimeout bounds the wait for another keyguard process.
	// Env: KEYGUARD_LOCK_TIMEOUT
	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`

	// DisableMlock skips locking process memory at startup.
	// Env: KEYGUARD_DISABLE_MLOCK
	DisableMlock bool `env:"DISABLE_MLOCK"`
}

// Load parses the environment into a Config. It does not validate.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("error getting env configs: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings that would produce an unusable or weak vault
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: vault root is empty", kgerrors.ErrState)
	}
	if _, err := core.ParsePolicy(c.OnFailure); err != nil {
		return err
	}
	if _, err := c.KDFConfig(); err != nil {
		return err
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("%w: negative lock timeout", kgerrors.ErrState)
	}
	return nil
}

// KDFConfig returns the configured derivation params, validated
func (c *Config) KDFConfig() (*crypto.KDF, error) {
	strategy, err := crypto.ParseStrategy(c.KDF)
	if err != nil {
		return nil, err
	}
	kdf := crypto.NewKDF(strategy)
	kdf.Iterations = c.Iterations
	if err := kdf.Validate(); err != nil {
		return nil, err
	}
	return kdf, nil
}

// Policy returns the configured failure policy
func (c *Config) Policy() core.Policy {
	return core.Policy(c.OnFailure)
}
