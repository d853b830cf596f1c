package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/illarion/keyguard/internal/keystore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault's key files and their states",
	Long: `Shows every key file and where it currently lives:
  encrypted              archive only (normal at rest)
  plaintext-only         not encrypted yet, run 'keyguard reconcile'
  plaintext+encrypted    left over from an interrupted run

Does not require a password.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		status, err := r.Status(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Vault: %s\n", status.Root)
		fmt.Printf("Journal: %s\n", status.Journal)
		if status.Strategy == "" {
			fmt.Println("Key derivation: not set yet")
		} else if status.Strategy == "pbkdf2" {
			fmt.Printf("Key derivation: %s, %d iterations\n", status.Strategy, status.Iterations)
		} else {
			fmt.Printf("Key derivation: %s\n", status.Strategy)
		}
		fmt.Printf("Cipher: %s\n", status.Algorithm)

		fmt.Println()
		fmt.Println("Key files:")
		if len(status.Credentials) == 0 {
			fmt.Println("  (none)")
		}
		for _, c := range status.Credentials {
			state := c.State.String()
			switch c.State {
			case keystore.CiphertextOnly:
				state = green(state)
			case keystore.PlaintextOnly:
				state = red(state)
			case keystore.Both:
				state = yellow(state)
			}

			line := fmt.Sprintf("  %-24s %s", c.Name, state)
			if c.Size > 0 {
				line += fmt.Sprintf("  %d bytes", c.Size)
			}
			if !c.LastSealed.IsZero() {
				line += fmt.Sprintf("  sealed %s", c.LastSealed.Format(time.RFC3339))
			}
			fmt.Println(line)
		}

		if len(status.Pending) > 0 {
			fmt.Println()
			fmt.Println("Interrupted operations:")
			for _, rec := range status.Pending {
				fmt.Printf("  %s: %s since %s\n", rec.Name, rec.Phase, rec.Started.Format(time.RFC3339))
			}
		}
		return nil
	},
}
