package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tradeloop/tradeloop/internal/build"
)

// NewVersionCommand prints the build version and commit.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of the binary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("tradeloop version %s (commit %s)\n", build.Version, build.Commit)
		},
	}
}
