package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cowork version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cowork version %s\n", rootCmd.Version)
		},
	}
}
