package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cowork/internal/api"
	"cowork/internal/mcp/document"
)

var setKeyValue string

// newAuthCmd creates the `auth` command group.
func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage MCP server credentials",
	}

	authCmd.AddCommand(newAuthStatusCmd())
	authCmd.AddCommand(newAuthLoginCmd())
	authCmd.AddCommand(newAuthCallbackCmd())
	authCmd.AddCommand(newAuthSetKeyCmd())
	authCmd.AddCommand(newAuthLogoutCmd())
	return authCmd
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [name]",
		Short: "Show authentication status for configured servers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			snapshot, err := m.LoadRegistry(cmd.Context())
			if err != nil {
				return err
			}

			servers := snapshot.Servers
			if len(args) == 1 {
				server := snapshot.Get(args[0])
				if server == nil {
					return fmt.Errorf("server %q not found", args[0])
				}
				servers = []api.Server{*server}
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Name", "Auth", "State", "Detail"})
			for _, server := range servers {
				resolved, err := m.ResolveAuth(cmd.Context(), server.Name())
				if err != nil {
					t.AppendRow(table.Row{server.Name(), "", "error", err.Error()})
					continue
				}
				t.AppendRow(table.Row{
					server.Name(),
					string(resolved.AuthType),
					string(resolved.Mode),
					authDetail(resolved),
				})
			}
			t.Render()
			return nil
		},
	}
}

// authDetail summarizes a resolved state for display. Secrets appear only
// in masked form.
func authDetail(resolved *api.ResolvedAuth) string {
	switch resolved.Mode {
	case api.AuthModeAPIKey:
		return "key " + resolved.MaskedKey
	case api.AuthModeOAuth:
		if resolved.OAuthTokens != nil && !resolved.OAuthTokens.ExpiresAt.IsZero() {
			return "token expires " + resolved.OAuthTokens.ExpiresAt.Local().Format(time.RFC3339)
		}
		return "token stored"
	case api.AuthModeOAuthPending:
		if resolved.OAuthPending != nil {
			return "waiting for approval until " + resolved.OAuthPending.ExpiresAt.Local().Format(time.Kitchen)
		}
		return "waiting for approval"
	default:
		return resolved.Message
	}
}

func newAuthLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <name>",
		Short: "Start OAuth authorization for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			snapshot, err := m.LoadRegistry(cmd.Context())
			if err != nil {
				return err
			}
			server := snapshot.Get(name)
			if server == nil {
				return fmt.Errorf("server %q not found", name)
			}

			result, err := m.Authorize(cmd.Context(), name)
			if err != nil {
				return err
			}
			fmt.Println(result.Instruction)

			// Code-paste mode hands control back to the user; the process
			// has nothing to wait for.
			if isCodeMode(server) {
				return nil
			}

			// Auto mode: poll the listener until the approval arrives or
			// the attempt expires.
			fmt.Println("Waiting for authorization...")
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-ticker.C:
					tokens, _, err := m.Callback(cmd.Context(), name, "")
					if err != nil {
						return err
					}
					if tokens != nil {
						fmt.Printf("Server %q authorized.\n", name)
						return nil
					}
				}
			}
		},
	}
}

// isCodeMode reports whether a server uses the code-paste OAuth mode.
// Tolerates a nil server so callers racing a config change stay safe.
func isCodeMode(server *api.Server) bool {
	if server == nil {
		return false
	}
	decl, ok := server.Definition.Auth.(document.OAuthAuth)
	return ok && decl.Mode == document.OAuthModeCode
}

func newAuthCallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "callback <name> [code]",
		Short: "Complete a pending authorization",
		Long: `Complete a pending OAuth authorization. With a code argument the code is
exchanged directly (code-paste mode); without one the local listener is
polled once for a captured approval.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			code := ""
			if len(args) == 2 {
				code = args[1]
			}

			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			tokens, pending, err := m.Callback(cmd.Context(), name, code)
			if err != nil {
				return err
			}
			if tokens == nil {
				fmt.Printf("Authorization for %q still pending (expires %s).\n",
					name, pending.ExpiresAt.Local().Format(time.Kitchen))
				return nil
			}
			fmt.Printf("Server %q authorized.\n", name)
			return nil
		},
	}
}

func newAuthSetKeyCmd() *cobra.Command {
	setKeyCmd := &cobra.Command{
		Use:   "set-key <name>",
		Short: "Store an API key for a server",
		Long: `Store an API key for a server declaring api_key auth. The key is read
from --key or, preferably, from stdin so it never lands in shell history.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := setKeyValue
			if key == "" {
				fmt.Fprint(os.Stderr, "API key: ")
				reader := bufio.NewReader(os.Stdin)
				line, err := reader.ReadString('\n')
				if err != nil {
					return fmt.Errorf("failed to read key from stdin: %w", err)
				}
				key = strings.TrimSpace(line)
			}

			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.SetAPIKey(cmd.Context(), args[0], key); err != nil {
				return err
			}
			fmt.Printf("API key stored for server %q.\n", args[0])
			return nil
		},
	}
	setKeyCmd.Flags().StringVar(&setKeyValue, "key", "", "the API key value (omit to read from stdin)")
	return setKeyCmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout <name>",
		Short: "Drop stored OAuth state for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.ClearAuth(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("OAuth state cleared for server %q.\n", args[0])
			return nil
		},
	}
}
