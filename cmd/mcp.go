package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"cowork/internal/api"
	"cowork/internal/mcp"
	"cowork/internal/mcp/document"
)

// Flags for `cowork mcp add`.
var (
	addTransport string
	addCommand   string
	addArgs      []string
	addEnv       []string
	addCwd       string
	addURL       string
	addHeaders   []string
	addAuth      string
	addAuthMode  string
	addScope     string
	addResource  string
	addKeyHeader string
	addKeyPrefix string
	addRequired  bool
	addRetries   int
)

var migrateScope string

var listWatch bool

// newMCPCmd creates the `mcp` command group.
func newMCPCmd() *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server configuration",
	}

	mcpCmd.AddCommand(newMCPListCmd())
	mcpCmd.AddCommand(newMCPAddCmd())
	mcpCmd.AddCommand(newMCPRemoveCmd())
	mcpCmd.AddCommand(newMCPRenameCmd())
	mcpCmd.AddCommand(newMCPMigrateCmd())
	mcpCmd.AddCommand(newMCPCheckCmd())
	return mcpCmd
}

func newMCPListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all configured MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := renderServerList(cmd.Context(), m); err != nil {
				return err
			}
			if !listWatch {
				return nil
			}

			// Re-render on every debounced config change until interrupted.
			if err := m.Watch(func() {
				if err := renderServerList(cmd.Context(), m); err != nil {
					fmt.Fprintf(os.Stderr, "warning: reload failed: %v\n", err)
				}
			}); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listWatch, "watch", false, "keep running and re-list on config changes")
	return listCmd
}

func renderServerList(ctx context.Context, m *mcp.Manager) error {
	snapshot, err := m.LoadRegistry(ctx)
	if err != nil {
		return err
	}

	if len(snapshot.Servers) == 0 {
		fmt.Println("No MCP servers configured.")
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Name", "Transport", "Auth", "Source", "Inherited"})
		for _, server := range snapshot.Servers {
			inherited := ""
			if server.Inherited {
				inherited = "yes"
			}
			t.AppendRow(table.Row{
				server.Name(),
				describeTransport(server.Definition.Transport),
				string(server.Definition.Auth.Kind()),
				string(server.Source),
				inherited,
			})
		}
		t.Render()
	}

	for _, warning := range snapshot.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	return nil
}

func describeTransport(tr document.Transport) string {
	switch t := tr.(type) {
	case document.StdioTransport:
		return "stdio: " + t.Command
	case document.HTTPTransport:
		return "http: " + t.URL
	case document.SSETransport:
		return "sse: " + t.URL
	default:
		return "unknown"
	}
}

func newMCPAddCmd() *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update an MCP server in the workspace config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := buildDefinition(args[0])
			if err != nil {
				return err
			}

			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Upsert(cmd.Context(), *def, ""); err != nil {
				return err
			}
			fmt.Printf("Server %q saved to the workspace config.\n", def.Name)
			return nil
		},
	}

	addCmd.Flags().StringVar(&addTransport, "transport", "stdio", "transport type (stdio, http, sse)")
	addCmd.Flags().StringVar(&addCommand, "command", "", "command to launch (stdio)")
	addCmd.Flags().StringArrayVar(&addArgs, "arg", nil, "command argument, repeatable (stdio)")
	addCmd.Flags().StringArrayVar(&addEnv, "env", nil, "environment variable KEY=VALUE, repeatable (stdio)")
	addCmd.Flags().StringVar(&addCwd, "cwd", "", "working directory (stdio)")
	addCmd.Flags().StringVar(&addURL, "url", "", "server URL (http, sse)")
	addCmd.Flags().StringArrayVar(&addHeaders, "header", nil, "static header KEY=VALUE, repeatable (http, sse)")
	addCmd.Flags().StringVar(&addAuth, "auth", "none", "auth type (none, api_key, oauth)")
	addCmd.Flags().StringVar(&addAuthMode, "oauth-mode", "auto", "oauth mode (auto, code)")
	addCmd.Flags().StringVar(&addScope, "oauth-scope", "", "oauth scope to request")
	addCmd.Flags().StringVar(&addResource, "oauth-resource", "", "oauth resource indicator")
	addCmd.Flags().StringVar(&addKeyHeader, "key-header", "", "header carrying the API key (default Authorization)")
	addCmd.Flags().StringVar(&addKeyPrefix, "key-prefix", "", "prefix prepended to the API key value")
	addCmd.Flags().BoolVar(&addRequired, "required", false, "mark the server as required")
	addCmd.Flags().IntVar(&addRetries, "retries", document.DefaultRetries, "connection retry count")
	return addCmd
}

func buildDefinition(name string) (*document.ServerDefinition, error) {
	var transport document.Transport
	switch document.TransportKind(addTransport) {
	case document.TransportStdio:
		if addCommand == "" {
			return nil, fmt.Errorf("--command is required for stdio transport")
		}
		env, err := parseKeyValues(addEnv)
		if err != nil {
			return nil, err
		}
		transport = document.StdioTransport{Command: addCommand, Args: addArgs, Env: env, Cwd: addCwd}
	case document.TransportHTTP, document.TransportSSE:
		if addURL == "" {
			return nil, fmt.Errorf("--url is required for %s transport", addTransport)
		}
		headers, err := parseKeyValues(addHeaders)
		if err != nil {
			return nil, err
		}
		if document.TransportKind(addTransport) == document.TransportHTTP {
			transport = document.HTTPTransport{URL: addURL, Headers: headers}
		} else {
			transport = document.SSETransport{URL: addURL, Headers: headers}
		}
	default:
		return nil, fmt.Errorf("unknown transport %q (want stdio, http, or sse)", addTransport)
	}

	var auth document.Auth
	switch document.AuthKind(addAuth) {
	case document.AuthKindNone:
		auth = document.NoAuth{}
	case document.AuthKindAPIKey:
		header := addKeyHeader
		if header == "" {
			header = document.DefaultAPIKeyHeader
		}
		auth = document.APIKeyAuth{HeaderName: header, Prefix: addKeyPrefix}
	case document.AuthKindOAuth:
		mode := document.OAuthMode(addAuthMode)
		if mode != document.OAuthModeAuto && mode != document.OAuthModeCode {
			return nil, fmt.Errorf("unknown oauth mode %q (want auto or code)", addAuthMode)
		}
		auth = document.OAuthAuth{Scope: addScope, Resource: addResource, Mode: mode}
	default:
		return nil, fmt.Errorf("unknown auth type %q (want none, api_key, or oauth)", addAuth)
	}

	if addRetries < 0 {
		return nil, fmt.Errorf("--retries must be non-negative")
	}

	return &document.ServerDefinition{
		Name:      name,
		Transport: transport,
		Required:  addRequired,
		Retries:   addRetries,
		Auth:      auth,
	}, nil
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	result := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid KEY=VALUE pair %q", pair)
		}
		result[key] = value
	}
	return result, nil
}

func newMCPRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server from the workspace config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Server %q removed. Stored credentials were kept; use 'cowork auth logout' to drop them.\n", args[0])
			return nil
		},
	}
}

func newMCPRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a workspace MCP server, moving its credentials",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			def, err := findWorkspaceDefinition(cmd, m, args[0])
			if err != nil {
				return err
			}
			renamed := *def
			renamed.Name = args[1]

			if err := m.Upsert(cmd.Context(), renamed, args[0]); err != nil {
				return err
			}
			fmt.Printf("Server %q renamed to %q.\n", args[0], args[1])
			return nil
		},
	}
}

func newMCPMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import servers from a legacy config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := api.Scope(migrateScope)
			if scope != api.ScopeWorkspace && scope != api.ScopeUser {
				return fmt.Errorf("unknown scope %q (want workspace or user)", migrateScope)
			}

			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.MigrateLegacy(scope)
			if err != nil {
				return err
			}

			if result.ArchivedPath == "" {
				fmt.Println("No legacy config found; nothing to migrate.")
				return nil
			}
			fmt.Printf("Imported %d servers.\n", result.Imported)
			if len(result.SkippedConflicts) > 0 {
				fmt.Printf("Skipped (already configured): %s\n", strings.Join(result.SkippedConflicts, ", "))
			}
			fmt.Printf("Legacy file archived at %s\n", result.ArchivedPath)
			return nil
		},
	}
	migrateCmd.Flags().StringVar(&migrateScope, "scope", "workspace", "which legacy config to migrate (workspace, user)")
	return migrateCmd
}

func newMCPCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <name>",
		Short: "Validate the connection to an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.Validate(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !result.OK {
				return fmt.Errorf("server %q failed validation: %s", args[0], result.Message)
			}
			fmt.Printf("Server %q is reachable (%s %s, %s).\n",
				args[0], result.ServerName, result.ServerVersion, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

// findWorkspaceDefinition loads a server definition that must come from the
// workspace layer.
func findWorkspaceDefinition(cmd *cobra.Command, m *mcp.Manager, name string) (*document.ServerDefinition, error) {
	snapshot, err := m.LoadRegistry(cmd.Context())
	if err != nil {
		return nil, err
	}
	server := snapshot.Get(name)
	if server == nil {
		return nil, fmt.Errorf("server %q not found", name)
	}
	if server.Source != api.SourceWorkspace && server.Source != api.SourceWorkspaceLegacy {
		return nil, fmt.Errorf("server %q is defined in the %s layer; edit its defining file directly", name, server.Source)
	}
	return &server.Definition, nil
}
