package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/mlock"
	"github.com/spf13/cobra"

	"github.com/illarion/keyguard/internal/config"
	"github.com/illarion/keyguard/internal/core"
	"github.com/illarion/keyguard/internal/gateway"
	"github.com/illarion/keyguard/internal/logger"
)

var (
	cfg *config.Config
	log = logger.Nop()

	flagRoot         string
	flagKDF          string
	flagIterations   int
	flagCommand      string
	flagOnFailure    string
	flagLogLevel     string
	flagNoKeyring    bool
	flagDisableMlock bool
	flagLockTimeout  time.Duration

	RootCmd = &cobra.Command{
		Use:   "keyguard",
		Short: "Keep key files encrypted except while a program uses them",
		Long: `keyguard keeps named key files encrypted at rest. A plaintext copy
exists only while the external program runs; afterwards it is sealed again.

Layout under the vault root (default ~/.commune):
  key/<name>.json             plaintext scratch copy, only while in use
  key/encrypted/<name>.enc    encrypted archive
  key/encrypted/.vault_salt   key derivation salt
  .keyguard.db                journal and vault lock

The password is read from KEYGUARD_PASSWORD, the OS keyring, or a prompt.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	flags := RootCmd.PersistentFlags()
	flags.StringVar(&flagRoot, "root", "", "vault root directory (env KEYGUARD_ROOT)")
	flags.StringVar(&flagKDF, "kdf", "", "key derivation for a new vault: pbkdf2, argon2id or mnemonic (env KEYGUARD_KDF)")
	flags.IntVar(&flagIterations, "iterations", 0, "PBKDF2 iterations for a new vault (env KEYGUARD_ITERATIONS)")
	flags.StringVar(&flagCommand, "command", "", "program to run against the key file (env KEYGUARD_COMMAND)")
	flags.StringVar(&flagOnFailure, "on-failure", "", "after a failed run: reencrypt or discard (env KEYGUARD_ON_FAILURE)")
	flags.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (env KEYGUARD_LOG_LEVEL)")
	flags.BoolVar(&flagNoKeyring, "no-keyring", false, "never read the password from the OS keyring (env KEYGUARD_NO_KEYRING)")
	flags.DurationVar(&flagLockTimeout, "lock-timeout", 0, "how long to wait for another keyguard process (env KEYGUARD_LOCK_TIMEOUT)")
	flags.BoolVar(&flagDisableMlock, "disable-mlock", false, "do not lock process memory (env KEYGUARD_DISABLE_MLOCK)")

	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(encryptCmd)
	RootCmd.AddCommand(decryptCmd)
	RootCmd.AddCommand(statusCmd)
	RootCmd.AddCommand(reconcileCmd)
	RootCmd.AddCommand(diffCmd)
	RootCmd.AddCommand(passwdCmd)
	RootCmd.AddCommand(keyringCmd)
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context) int {
	if err := RootCmd.ExecuteContext(ctx); err != nil {
		return HandleError(err)
	}
	return 0
}

// setup loads the config, applies flag overrides and prepares logging
func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("root") {
		loaded.Root = flagRoot
	}
	if flags.Changed("kdf") {
		loaded.KDF = flagKDF
	}
	if flags.Changed("iterations") {
		loaded.Iterations = flagIterations
	}
	if flags.Changed("command") {
		loaded.Command = flagCommand
	}
	if flags.Changed("on-failure") {
		loaded.OnFailure = flagOnFailure
	}
	if flags.Changed("log-level") {
		loaded.LogLevel = flagLogLevel
	}
	if flags.Changed("no-keyring") {
		loaded.NoKeyring = flagNoKeyring
	}
	if flags.Changed("lock-timeout") {
		loaded.LockTimeout = flagLockTimeout
	}
	if flags.Changed("disable-mlock") {
		loaded.DisableMlock = flagDisableMlock
	}

	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	log = logger.NewStderr(cfg.LogLevel)

	if !cfg.DisableMlock && mlock.Supported() {
		if err := mlock.LockMemory(); err != nil {
			log.Warn().Err(err).Msg("could not lock memory, secrets may be swapped to disk (use --disable-mlock to silence)")
		}
	}
	return nil
}

// openRunner locks the vault and warns about leftovers from an earlier
// crash
func openRunner(confirm core.ConfirmFunc) (*core.Runner, error) {
	kdf, err := cfg.KDFConfig()
	if err != nil {
		return nil, err
	}

	gw := gateway.New(cfg.Command, log)
	r, err := core.Open(cfg.Root, core.Options{
		KDF:         kdf,
		Policy:      cfg.Policy(),
		Gateway:     gw,
		Confirm:     confirm,
		LockTimeout: cfg.LockTimeout,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}

	report, err := r.Scan()
	if err != nil {
		r.Close()
		return nil, err
	}
	for _, name := range report.Unsealed {
		fmt.Fprintf(os.Stderr, "warning: %s is not encrypted (run 'keyguard reconcile')\n", name)
	}
	for _, name := range report.Ambiguous {
		fmt.Fprintf(os.Stderr, "warning: %s has both a plaintext copy and an archive (see 'keyguard diff %s')\n", name, name)
	}
	for _, rec := range report.Stale {
		fmt.Fprintf(os.Stderr, "warning: %s was interrupted while %s\n", rec.Name, rec.Phase)
	}
	if len(report.Rekeying) > 0 {
		fmt.Fprintf(os.Stderr, "warning: a password change did not finish, %s may still use the old password (run 'keyguard passwd' again)\n",
			strings.Join(report.Rekeying, ", "))
	}
	return r, nil
}
