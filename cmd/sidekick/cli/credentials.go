package cli

import (
	"fmt"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/spf13/cobra"
)

// RegisterCredentialCommands adds commands that act on credentials without
// touching account metadata.
func RegisterCredentialCommands(root *cobra.Command) {
	credCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Check or wipe credentials",
	}

	credCmd.AddCommand(newCredentialsCheckCmd())
	credCmd.AddCommand(newCredentialsWipeCmd())

	root.AddCommand(credCmd)
}

func newCredentialsCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate credentials with STS without storing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := bundleFromFlags(cmd)
			if err != nil {
				return err
			}
			var res core.ValidationResult
			if err := call(cmd, "credentials.validate", map[string]any{"bundle": bundle}, &res); err != nil {
				return err
			}
			return printValidation(cmd, res)
		},
	}
	addBundleFlags(cmd)
	return cmd
}

func newCredentialsWipeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Remove every stored credential bundle (accounts are kept)",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("this removes all stored credentials; re-run with --yes to confirm")
			}
			if err := call(cmd, "credentials.clear", nil, nil); err != nil {
				return err
			}
			fmt.Println("All stored credentials removed.")
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "Confirm")
	return cmd
}
