// sidekick is the operator CLI for aws-sidekick. It manages accounts, the
// active selection, tasks and conversations on a running sidekick-server.
package main

import (
	"fmt"
	"os"

	"github.com/eichemberger/aws-sidekick/cmd/sidekick/cli"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "sidekick",
		Short: "aws-sidekick: manage AWS accounts and run tasks against them",
		Long: `sidekick registers AWS accounts (access keys or shared-config profiles),
keeps one of them active, and runs read-only inventory tasks under the
selected account's credentials. It talks to a running sidekick-server.`,
		Version:      version,
		SilenceUsage: true,
	}

	cli.RegisterGlobalFlags(rootCmd)
	cli.RegisterAccountCommands(rootCmd)
	cli.RegisterCredentialCommands(rootCmd)
	cli.RegisterTaskCommands(rootCmd)
	cli.RegisterConversationCommands(rootCmd)
	cli.RegisterConfigCommands(rootCmd)
	cli.RegisterAuditCommands(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
