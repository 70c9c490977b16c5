package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/grpcapi"
	"github.com/spf13/cobra"
)

// RegisterAccountCommands adds account management commands.
func RegisterAccountCommands(root *cobra.Command) {
	acctCmd := &cobra.Command{
		Use:     "account",
		Aliases: []string{"accounts"},
		Short:   "Manage registered AWS accounts",
	}

	acctCmd.AddCommand(newAccountAddCmd())
	acctCmd.AddCommand(newAccountListCmd())
	acctCmd.AddCommand(newAccountShowCmd())
	acctCmd.AddCommand(newAccountUpdateCmd())
	acctCmd.AddCommand(newAccountRemoveCmd())
	acctCmd.AddCommand(newAccountDefaultCmd())
	acctCmd.AddCommand(newAccountUseCmd())
	acctCmd.AddCommand(newAccountClearCmd())
	acctCmd.AddCommand(newAccountActiveCmd())
	acctCmd.AddCommand(newAccountValidateCmd())

	root.AddCommand(acctCmd)
}

func newAccountAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <alias>",
		Short: "Register an account from an access key pair or a profile",
		Example: `  sidekick account add prod --access-key-id AKIA... --region eu-west-1 --validate
  sidekick account add sandbox --profile sandbox-sso --default`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := bundleFromFlags(cmd)
			if err != nil {
				return err
			}
			description, _ := cmd.Flags().GetString("description")
			setDefault, _ := cmd.Flags().GetBool("default")
			validate, _ := cmd.Flags().GetBool("validate")

			var acct core.Account
			err = call(cmd, "account.register", grpcapi.RegisterAccountRequest{
				Alias:        args[0],
				Bundle:       bundle,
				Description:  description,
				SetAsDefault: setDefault,
				Validate:     validate,
			}, &acct)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(acct)
			}

			fmt.Printf("Account registered: %s\n", acct.Alias)
			printAccountDetail(&acct)
			return nil
		},
	}
	addBundleFlags(cmd)
	cmd.Flags().String("description", "", "Free-form description")
	cmd.Flags().Bool("default", false, "Make this the default account")
	cmd.Flags().Bool("validate", false, "Check the credentials with STS before saving")
	return cmd
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var accounts []core.Account
			if err := call(cmd, "account.list", nil, &accounts); err != nil {
				return err
			}

			var active core.Account
			hasActive := call(cmd, "account.get_active", nil, &active) == nil

			if jsonOutput(cmd) {
				return printJSON(accounts)
			}
			if len(accounts) == 0 {
				fmt.Println("No accounts registered. Add one with 'sidekick account add'.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tKIND\tREGION\tKEY_ID/PROFILE\tACCOUNT_ID\tCREDS\tDEFAULT\tACTIVE")
			for _, a := range accounts {
				def, act, creds := "", "", "loaded"
				if a.IsDefault {
					def = "*"
				}
				if hasActive && a.Alias == active.Alias {
					act = "*"
				}
				if !a.HasCredentials {
					creds = "missing"
				}
				source := a.MaskedKeyID
				if a.Kind == core.BundleProfile {
					source = a.Profile
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					a.Alias, a.Kind, a.Region, orDash(source), orDash(a.AccountID), creds, def, act)
			}
			w.Flush()
			return nil
		},
	}
}

func newAccountShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <alias>",
		Short: "Show one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acct core.Account
			if err := call(cmd, "account.get", map[string]string{"alias": args[0]}, &acct); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(acct)
			}
			fmt.Printf("Account: %s\n", acct.Alias)
			printAccountDetail(&acct)
			return nil
		},
	}
}

func newAccountUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <alias>",
		Short: "Replace an account's credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := bundleFromFlags(cmd)
			if err != nil {
				return err
			}
			validate, _ := cmd.Flags().GetBool("validate")

			var acct core.Account
			err = call(cmd, "account.update_credentials", grpcapi.UpdateCredentialsRequest{
				Alias:    args[0],
				Bundle:   bundle,
				Validate: validate,
			}, &acct)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(acct)
			}
			fmt.Printf("Credentials updated: %s\n", acct.Alias)
			printAccountDetail(&acct)
			return nil
		},
	}
	addBundleFlags(cmd)
	cmd.Flags().Bool("validate", false, "Check the credentials with STS before saving")
	return cmd
}

func newAccountRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <alias>",
		Aliases: []string{"rm", "delete"},
		Short:   "Delete an account and its credentials",
		Long: `Delete an account and its stored credentials. If it was active the active
selection is cleared; if it was the default no other account is promoted.
Task history that references the alias is kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(cmd, "account.delete", map[string]string{"alias": args[0]}, nil); err != nil {
				return err
			}
			fmt.Printf("Account deleted: %s\n", args[0])
			return nil
		},
	}
}

func newAccountDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "default <alias>",
		Short: "Make an account the default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acct core.Account
			if err := call(cmd, "account.set_default", map[string]string{"alias": args[0]}, &acct); err != nil {
				return err
			}
			fmt.Printf("Default account: %s\n", acct.Alias)
			return nil
		},
	}
}

func newAccountUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <alias>",
		Short: "Make an account active for new tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var acct core.Account
			if err := call(cmd, "account.set_active", map[string]string{"alias": args[0]}, &acct); err != nil {
				return err
			}
			fmt.Printf("Active account: %s (%s)\n", acct.Alias, acct.Region)
			if !acct.HasCredentials {
				fmt.Printf("  Warning: no credentials loaded; run 'sidekick account update %s'\n", acct.Alias)
			}
			return nil
		},
	}
}

func newAccountClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := call(cmd, "account.clear_active", nil, nil); err != nil {
				return err
			}
			fmt.Println("Active account cleared.")
			return nil
		},
	}
}

func newAccountActiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "active",
		Short: "Show the active account",
		RunE: func(cmd *cobra.Command, args []string) error {
			var acct core.Account
			err := call(cmd, "account.get_active", nil, &acct)
			if core.CodeOf(err) == core.CodeNotFound {
				fmt.Println("No active account.")
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return printJSON(acct)
			}
			fmt.Printf("Active account: %s\n", acct.Alias)
			printAccountDetail(&acct)
			return nil
		},
	}
}

func newAccountValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <alias>",
		Short: "Check an account's stored credentials with STS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res core.ValidationResult
			if err := call(cmd, "account.validate", map[string]string{"alias": args[0]}, &res); err != nil {
				return err
			}
			return printValidation(cmd, res)
		},
	}
}

func printValidation(cmd *cobra.Command, res core.ValidationResult) error {
	if jsonOutput(cmd) {
		return printJSON(res)
	}
	if !res.Valid {
		return fmt.Errorf("credentials rejected: %s", res.Error)
	}
	fmt.Println("Credentials valid")
	if res.Identity != nil {
		fmt.Printf("  Account:   %s\n", res.Identity.AccountID)
		fmt.Printf("  Principal: %s\n", res.Identity.Principal)
		fmt.Printf("  Region:    %s\n", res.Identity.Region)
	}
	return nil
}

func printAccountDetail(a *core.Account) {
	fmt.Printf("  Kind:        %s\n", a.Kind)
	fmt.Printf("  Region:      %s\n", a.Region)
	if a.Kind == core.BundleProfile {
		fmt.Printf("  Profile:     %s\n", a.Profile)
	} else {
		fmt.Printf("  Key ID:      %s\n", orDash(a.MaskedKeyID))
	}
	if a.Description != "" {
		fmt.Printf("  Description: %s\n", a.Description)
	}
	fmt.Printf("  Default:     %t\n", a.IsDefault)
	fmt.Printf("  Credentials: %s\n", map[bool]string{true: "loaded", false: "missing"}[a.HasCredentials])
	if a.AccountID != "" {
		fmt.Printf("  Account ID:  %s\n", a.AccountID)
		fmt.Printf("  Principal:   %s\n", orDash(a.Principal))
	}
	if a.LastValidatedAt != nil {
		fmt.Printf("  Validated:   %s\n", formatTime(*a.LastValidatedAt))
	}
	fmt.Printf("  Created:     %s\n", formatTime(a.CreatedAt))
}
