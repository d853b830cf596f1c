package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/keyguard/internal/core"
	"github.com/illarion/keyguard/internal/crypto"
)

var reconcileYes bool

func init() {
	reconcileCmd.Flags().BoolVarP(&reconcileYes, "yes", "y", false, "discard plaintext copies that have an archive without asking")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair what an interrupted run left behind",
	Long: `Encrypts key files that have no archive, and removes plaintext copies
that sit next to an archive once you confirm (the archive wins). Clears
records of interrupted operations. An unfinished password change is only
reported; 'keyguard passwd' finishes it.

A password is only asked for when something needs encrypting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm := confirmOnTerminal
		if reconcileYes {
			confirm = alwaysConfirm
		}

		r, err := openRunner(confirm)
		if err != nil {
			return err
		}
		defer r.Close()

		scan, err := r.Scan()
		if err != nil {
			return err
		}
		if scan.Clean() {
			fmt.Println("Nothing to reconcile")
			return nil
		}

		var key *crypto.Key
		if len(scan.Unsealed) > 0 {
			key, err = GetKeyWithRetry(r)
			if err != nil {
				return err
			}
			defer key.Destroy()
		}

		report, err := r.Reconcile(cmd.Context(), key, nil)
		printReport(report)
		return err
	},
}

func printReport(report *core.Report) {
	if report == nil {
		return
	}
	for _, name := range report.Encrypted {
		fmt.Printf("%s encrypted %s\n", green("✓"), name)
	}
	for _, name := range report.Discarded {
		fmt.Printf("%s removed plaintext copy of %s\n", green("✓"), name)
	}
	for _, name := range report.Ambiguous {
		fmt.Printf("%s %s left alone, plaintext copy and archive both present\n", yellow("!"), name)
	}
	for _, name := range report.Unsealed {
		fmt.Printf("%s %s is still not encrypted\n", red("✗"), name)
	}
	for _, rec := range report.Stale {
		fmt.Printf("  cleared interrupted %s of %s (op %s)\n", rec.Phase, rec.Name, rec.OpID)
	}
	for _, name := range report.Rekeying {
		fmt.Printf("%s %s may still be under the old password, run 'keyguard passwd' again\n", red("✗"), name)
	}
}
