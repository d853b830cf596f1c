package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/keyguard/internal/core"
	"github.com/illarion/keyguard/internal/crypto"
	"github.com/illarion/keyguard/internal/keyring"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the vault password",
	Long: `Re-encrypts every archive under a new password. The salt and key
derivation settings stay the same. The new password is always prompted for.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		oldKey, err := GetKeyWithRetry(r)
		if err != nil {
			return err
		}
		defer oldKey.Destroy()

		opts, err := secretOptions(r, true)
		if err != nil {
			return err
		}

		var newSecret []byte
		if opts.Mnemonic {
			newSecret, err = core.ReadMnemonic()
		} else {
			newSecret, err = core.ReadPasswordConfirm("Enter new password: ")
		}
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(newSecret)

		newKey, err := r.DeriveKey(newSecret)
		if err != nil {
			return err
		}
		defer newKey.Destroy()

		if err := r.Rekey(cmd.Context(), oldKey, newKey); err != nil {
			return err
		}

		// Keep the keyring in step if it held the old password
		if keyring.HasPassword(opts.VaultID) {
			if err := keyring.SavePassword(opts.VaultID, newSecret); err == nil {
				fmt.Println("Keyring updated with new password")
			} else {
				fmt.Printf("%s %s\n", yellow("warning:"), err)
			}
		}

		fmt.Println("Password changed successfully")
		return nil
	},
}
