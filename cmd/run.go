package cmd

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <name> [-- args...]",
	Short: "Decrypt a key file, run the program against it, encrypt it again",
	Long: `Decrypts key/<name>.json, runs the configured program (default comx) with
KEYGUARD_KEY_FILE pointing at it, and encrypts it again when the program
exits. The plaintext copy is removed however the run ends.

With --on-failure=discard a failed run drops the plaintext copy and keeps
the archive as it was.`,
	Example: `  keyguard run alice -- status
  keyguard --command ./deploy.sh run alice -- --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, programArgs := args[0], args[1:]

		r, err := openRunner(confirmOnTerminal)
		if err != nil {
			return err
		}
		defer r.Close()

		key, err := GetKeyWithRetry(r)
		if err != nil {
			return err
		}
		defer key.Destroy()

		_, err = r.RunWithKey(cmd.Context(), name, key, programArgs)
		return err
	},
}
