package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/taskmaster/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("taskmaster %s (%s, built %s, %s, %s)\n",
			info.Version, info.GitCommit, info.BuildDate, info.GoVersion, info.Platform)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
