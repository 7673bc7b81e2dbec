package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "nudged",
	Short: "Local interruptibility decision engine",
	Long: `nudged decides in real time whether showing the user a proactive
suggestion is worth the interruption. Activity signals feed a cascade of
a hard-rule gate, a confusion detector, and a learning policy; outcomes
reported back tune the policy over time.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
