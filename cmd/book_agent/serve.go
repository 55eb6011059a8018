package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/storybook-agent/internal/config"
	"github.com/jonathan/storybook-agent/internal/server"
)

var (
	servePort    int
	serveAccount string
	serveTier    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long:  `Start an HTTP server that exposes REST endpoints for triggering pipeline runs, streaming stage progress, and fetching artifacts.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveAccount, "account", "", "Credit account billed for AI calls (optional, defaults to BILLING_ACCOUNT_ID env var)")
	serveCmd.Flags().StringVar(&serveTier, "tier", "advanced", "Text model tier: standard or advanced")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	account := serveAccount
	if account == "" {
		account = os.Getenv("BILLING_ACCOUNT_ID")
	}
	if account == "" {
		return fmt.Errorf("BILLING_ACCOUNT_ID environment variable or --account flag is required")
	}

	cfg := config.Config{
		AccountID: account,
		ModelTier: serveTier,
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	resolveEnvFallbacks(&cfg)

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:       servePort,
		Store:      deps.store,
		Runner:     deps.runner,
		Users:      deps.store,
		CloseStore: deps.close,
	})
	if err != nil {
		deps.close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}
