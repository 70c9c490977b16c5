// sidekick-server owns the account registry, the credential store, the active
// selection and the task engine. Operators talk to it with the sidekick CLI
// over a unix socket.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/app"
	"github.com/eichemberger/aws-sidekick/internal/config"
	"github.com/eichemberger/aws-sidekick/internal/grpcapi"
	"github.com/eichemberger/aws-sidekick/internal/logging"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "sidekick-server",
		Short:        "aws-sidekick server: multi-account AWS credential and task manager",
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the server on the configured unix socket (or a TCP address with --addr).

Outside development mode credentials live in memory only and are lost when the
server exits; account metadata, tasks and conversations persist in data_dir.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")
			socket, _ := cmd.Flags().GetString("socket")
			shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if socket != "" {
				cfg.SocketPath = socket
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

			ctx := context.Background()
			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("opening sidekick: %w", err)
			}

			var server *grpcapi.Server
			if addr != "" {
				logger.Warn().Str("addr", addr).Msg("listening on plaintext TCP; use for local development only")
				server, err = grpcapi.NewTCPServer(addr, a)
			} else {
				server, err = grpcapi.NewServer(cfg.SocketPath, a)
			}
			if err != nil {
				a.Close(ctx)
				return fmt.Errorf("starting server: %w", err)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			go func() {
				sig := <-sigCh
				logger.Info().Str("signal", sig.String()).Msg("shutting down")
				server.Stop()
			}()

			logger.Info().Str("listen", server.Addr()).Str("version", version).Msg("sidekick server ready")
			serveErr := server.Serve()

			closeCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			if err := a.Close(closeCtx); err != nil {
				logger.Error().Err(err).Msg("closing sidekick")
			}
			return serveErr
		},
	}

	cmd.Flags().String("config", "", "Config file (default ~/.aws-sidekick/config.toml)")
	cmd.Flags().String("addr", "", "Listen on this TCP address instead of the unix socket")
	cmd.Flags().String("socket", "", "Unix socket path (overrides socket_path)")
	cmd.Flags().Duration("shutdown-timeout", 30*time.Second, "How long running tasks may finish on shutdown")

	return cmd
}
