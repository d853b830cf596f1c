package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the vault layout, salt and journal",
	Long: `Creates the vault directories, the key derivation salt and the journal,
and pins the key derivation settings. Running it again is harmless.

No password is asked for; the first encrypt sets it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		created, err := r.Init()
		if err != nil {
			return err
		}
		kdf, err := r.KDF()
		if err != nil {
			return err
		}

		if !created {
			fmt.Printf("Vault already initialized at %s (%s)\n", r.Store().Root(), kdf.Strategy)
			return nil
		}
		fmt.Printf("%s Initialized vault at %s (%s)\n", green("✓"), r.Store().Root(), kdf.Strategy)
		return nil
	},
}
