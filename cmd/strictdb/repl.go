package main

import (
	"os"

	"github.com/spf13/cobra"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Run an interactive shell against the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(eng, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(replCmd)
	rootCmd.RunE = replCmd.RunE
}
