package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt <name>",
	Short: "Encrypt key/<name>.json and remove the plaintext",
	Long: `Encrypts key/<name>.json into key/encrypted/<name>.enc and removes the
plaintext. Encrypting an already encrypted key file does nothing.
A plaintext copy only replaces an existing archive when it came from
'keyguard decrypt'; any other copy is refused, since the archive wins.

The first encrypt in a new vault sets its password.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		r, err := openRunner(nil)
		if err != nil {
			return err
		}
		defer r.Close()

		key, err := GetKeyWithRetry(r)
		if err != nil {
			return err
		}
		defer key.Destroy()

		if err := r.Encrypt(name, key); err != nil {
			return err
		}
		fmt.Printf("%s Encrypted %s\n", green("✓"), name)
		return nil
	},
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt <name>",
	Short: "Decrypt key/encrypted/<name>.enc and leave the plaintext on disk",
	Long: `Writes the decrypted key file to key/<name>.json and leaves it there.
Nothing removes it automatically; run 'keyguard encrypt <name>' when done.
Prefer 'keyguard run', which cleans up on its own. An existing plaintext
copy is only overwritten once you confirm.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

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

		if err := r.Decrypt(name, key); err != nil {
			return err
		}
		fmt.Println(r.Store().PlaintextPath(name))
		fmt.Fprintf(os.Stderr, "%s plaintext left on disk, run 'keyguard encrypt %s' when done\n", yellow("warning:"), name)
		return nil
	},
}
