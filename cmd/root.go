package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cowork/internal/mcp"
	"cowork/internal/mcp/paths"
	"cowork/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
)

var (
	workspaceFlag string
	logLevelFlag  string
)

// rootCmd represents the base command for the cowork application.
var rootCmd = &cobra.Command{
	Use:   "cowork",
	Short: "Manage MCP server configuration and credentials",
	Long: `cowork manages the MCP servers available to your workspace: the layered
server configuration, per-server credentials, and the OAuth flows needed
to authorize remote servers.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors
	// that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.ParseLevel(logLevelFlag), os.Stderr)
	},
}

// SetVersion sets the version for the root command, injected from main.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "cowork version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(ExitCodeError)
	}
}

// newManager builds the subsystem rooted at the selected workspace.
func newManager() (*mcp.Manager, error) {
	workspaceRoot := workspaceFlag
	if workspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspaceRoot = wd
	}

	cfg, err := paths.DefaultConfig(workspaceRoot)
	if err != nil {
		return nil, err
	}
	return mcp.NewManager(cfg), nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&workspaceFlag, "workspace", "", "workspace root (defaults to the current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newAuthCmd())
	rootCmd.AddCommand(newVersionCmd())
}
