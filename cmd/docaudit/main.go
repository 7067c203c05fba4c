package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "docaudit",
		Short:         "Audit long documents for issues and highlight them on the page",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	cmd.AddCommand(newAnalyzeCommand(&verbose))
	cmd.AddCommand(newTokensCommand(&verbose))
	cmd.AddCommand(newMapCommand())
	return cmd
}
