// Package main provides the entry point for the storybook agent CLI and server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "book_agent",
	Short: "Illustrated children's book generation agent",
	Long:  "book_agent drives the staged book generation pipeline: outline -> chapters -> illustrations -> humanize -> layout -> cover -> export, with per-stage budgets and credit billing.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
