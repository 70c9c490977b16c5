package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eichemberger/aws-sidekick/internal/config"
	"github.com/eichemberger/aws-sidekick/internal/core"
	"github.com/eichemberger/aws-sidekick/internal/grpcapi"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const defaultCallTimeout = 30 * time.Second

// RegisterGlobalFlags adds the connection flags shared by every command.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().String("config", "", "Config file (default ~/.aws-sidekick/config.toml)")
	root.PersistentFlags().String("server", "", "Server unix socket path or host:port (default: configured socket_path)")
	root.PersistentFlags().Bool("json", false, "Print raw JSON results")
}

// connect dials the server named by --server or the configured socket.
func connect(cmd *cobra.Command) (*grpcapi.Client, error) {
	target, _ := cmd.Flags().GetString("server")
	if target == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		target = cfg.SocketPath
		if _, err := os.Stat(target); err != nil {
			return nil, fmt.Errorf("no server socket at %s; start one with 'sidekick-server serve'", target)
		}
	}
	return grpcapi.Dial(target)
}

// call runs one RPC with the default timeout.
func call(cmd *cobra.Command, method string, params, out any) error {
	return callWithTimeout(cmd, defaultCallTimeout, method, params, out)
}

func callWithTimeout(cmd *cobra.Command, timeout time.Duration, method string, params, out any) error {
	client, err := connect(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return client.Call(ctx, method, params, out)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readSecret prompts on the terminal without echo, or reads one line from a
// piped stdin.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// bundleFromFlags builds the wire bundle from --access-key-id/--profile
// flags, prompting for the secret key when keys are used.
func bundleFromFlags(cmd *cobra.Command) (core.BundleInput, error) {
	keyID, _ := cmd.Flags().GetString("access-key-id")
	profile, _ := cmd.Flags().GetString("profile")
	region, _ := cmd.Flags().GetString("region")
	withToken, _ := cmd.Flags().GetBool("session-token")

	in := core.BundleInput{AccessKeyID: keyID, Profile: profile, Region: region}
	if keyID == "" {
		return in, nil
	}

	secret, err := readSecret("Secret access key: ")
	if err != nil {
		return in, err
	}
	in.SecretAccessKey = secret

	if withToken {
		token, err := readSecret("Session token: ")
		if err != nil {
			return in, err
		}
		in.SessionToken = token
	}
	return in, nil
}

func addBundleFlags(cmd *cobra.Command) {
	cmd.Flags().String("access-key-id", "", "Access key id (secret key is prompted)")
	cmd.Flags().Bool("session-token", false, "Also prompt for a session token")
	cmd.Flags().String("profile", "", "Shared-config profile name instead of keys")
	cmd.Flags().String("region", "", "Region (default us-east-1)")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
