package cli

import (
	"fmt"

	"github.com/acknak/pothook/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Current()
			fmt.Fprintf(cmd.OutOrStdout(), "pothook v%s\n", info.Version)
			if info.Commit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "commit %s", info.Commit)
				if info.Date != "" {
					fmt.Fprintf(cmd.OutOrStdout(), " (%s)", info.Date)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built with %s\n", info.GoVersion)
			return nil
		},
	}
}
