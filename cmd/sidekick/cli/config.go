package cli

import (
	"fmt"
	"os"

	"github.com/eichemberger/aws-sidekick/internal/config"
	"github.com/eichemberger/aws-sidekick/internal/grpcapi"
	"github.com/spf13/cobra"
)

// RegisterConfigCommands adds config file commands. They run locally and do
// not need a server.
func RegisterConfigCommands(root *cobra.Command) {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the config file",
	}

	cfgCmd.AddCommand(newConfigInitCmd())
	cfgCmd.AddCommand(newConfigShowCmd())

	root.AddCommand(cfgCmd)
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			force, _ := cmd.Flags().GetBool("force")
			dev, _ := cmd.Flags().GetBool("dev")
			if path == "" {
				path = config.DefaultPath()
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s; use --force to overwrite", path)
			}

			cfg := config.Default()
			if dev {
				cfg.Environment = "development"
			}
			if err := config.Save(cfg, path); err != nil {
				return err
			}

			fmt.Printf("Config written: %s\n", path)
			if dev {
				fmt.Printf("  Development mode: credentials persist in %s\n", cfg.CredentialsFile)
				fmt.Println("  Set SIDEKICK_CREDENTIALS_PASSPHRASE to seal that file.")
			}
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	cmd.Flags().Bool("dev", false, "Enable development mode (durable credential file)")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			if jsonOutput(cmd) {
				cfg.CredentialsPassphrase = ""
				return printJSON(cfg)
			}

			passphrase := "(unset)"
			if cfg.CredentialsPassphrase != "" {
				passphrase = "(set)"
			}
			fmt.Printf("environment:            %s (dev mode: %t)\n", cfg.Environment, cfg.DevMode())
			fmt.Printf("data_dir:               %s\n", cfg.DataDir)
			fmt.Printf("socket_path:            %s\n", cfg.SocketPath)
			fmt.Printf("credentials_file:       %s\n", cfg.CredentialsFile)
			fmt.Printf("credentials_passphrase: %s\n", passphrase)
			fmt.Printf("log_level:              %s\n", cfg.LogLevel)
			fmt.Printf("log_format:             %s\n", cfg.LogFormat)
			fmt.Printf("default_region:         %s\n", cfg.DefaultRegion)
			fmt.Printf("task_concurrency:       %d\n", cfg.TaskConcurrency)
			fmt.Printf("task_timeout:           %s\n", cfg.TaskTimeout)
			fmt.Printf("validator_timeout:      %s\n", cfg.ValidatorTimeout)
			fmt.Printf("rate_limit_per_service: %d\n", cfg.RateLimitPerService)
			return nil
		},
	}
}

// RegisterAuditCommands adds audit log commands.
func RegisterAuditCommands(root *cobra.Command) {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit log",
	}

	auditCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify the audit log hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status grpcapi.AuditStatus
			if err := call(cmd, "audit.verify", nil, &status); err != nil {
				return err
			}
			if !status.Valid {
				return fmt.Errorf("audit chain broken (%d records checked)", status.Count)
			}
			fmt.Printf("Audit chain intact: %d records\n", status.Count)
			return nil
		},
	})

	root.AddCommand(auditCmd)
}
