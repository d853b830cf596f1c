package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/illarion/keyguard/internal/core"
	"github.com/illarion/keyguard/internal/crypto"
	"github.com/illarion/keyguard/internal/keyring"
)

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the vault password in the OS keyring",
}

var keyringSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save the vault password to the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		opts, err := secretOptions(r, false)
		if err != nil {
			return err
		}
		opts.UseKeyring = false

		secret, _, err := core.GetSecret(opts)
		if err != nil {
			return err
		}
		defer crypto.ClearBytes(secret)

		// Verify password is correct
		key, err := r.DeriveKey(secret)
		if err != nil {
			return err
		}
		defer key.Destroy()
		if err := r.VerifyKey(key); err != nil {
			return err
		}

		if err := keyring.SavePassword(opts.VaultID, secret); err != nil {
			return err
		}
		fmt.Println("Password saved to keyring")
		return nil
	},
}

var keyringDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the vault password from the OS keyring",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		vaultID, err := r.VaultID()
		if err != nil {
			return err
		}
		if !keyring.HasPassword(vaultID) {
			fmt.Println("No password stored in keyring")
			return nil
		}
		if err := keyring.DeletePassword(vaultID); err != nil {
			return err
		}
		fmt.Println("Password removed from keyring")
		return nil
	},
}

var keyringStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the keyring holds the vault password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		vaultID, err := r.VaultID()
		if err != nil {
			return err
		}
		if keyring.HasPassword(vaultID) {
			fmt.Println("Password: stored in keyring")
		} else {
			fmt.Println("Password: not stored")
		}
		return nil
	},
}

func init() {
	keyringCmd.AddCommand(keyringSaveCmd)
	keyringCmd.AddCommand(keyringDeleteCmd)
	keyringCmd.AddCommand(keyringStatusCmd)
}
