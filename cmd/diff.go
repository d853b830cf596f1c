package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <name>",
	Short: "Compare a leftover plaintext copy with its archive",
	Long: `Shows how key/<name>.json differs from the archived version. Use it before
'keyguard reconcile' to decide whether the plaintext copy can be dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		diff, err := r.Diff(cmd.Context(), args[0], key)
		if err != nil {
			return err
		}
		if diff == "" {
			fmt.Println("No changes detected")
			return nil
		}
		fmt.Print(diff)
		return nil
	},
}
