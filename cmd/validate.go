package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/taskmaster/internal/config"
)

// validateCmd checks a program configuration file without starting
// anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a program configuration file",
	Long:  `Parses and validates the configuration file, printing each program that would be supervised. Nothing is started.`,
	Run: func(cmd *cobra.Command, args []string) {
		file, _ := cmd.Flags().GetString("file")
		cfg, err := config.Load(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(configExitCode(err))
		}
		for _, name := range cfg.Names() {
			fmt.Println(cfg.Programs[name].Describe())
		}
		fmt.Printf("%s: %d program(s) ok\n", file, len(cfg.Programs))
	},
}

func init() {
	validateCmd.Flags().StringP("file", "f", "", "Path to the program configuration file (required)")
	_ = validateCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(validateCmd)
}
