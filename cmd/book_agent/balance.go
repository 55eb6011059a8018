package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/storybook-agent/internal/credits"
	"github.com/jonathan/storybook-agent/internal/store"
)

var balanceCommand = &cobra.Command{
	Use:   "balance",
	Short: "Show the remaining credit balance for an account",
	RunE:  runBalanceCmd,
}

var (
	balanceAccount     string
	balanceDatabaseURL string
)

func init() {
	balanceCommand.Flags().StringVarP(&balanceAccount, "account", "a", "", "Credit account to inspect")
	balanceCommand.Flags().StringVar(&balanceDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	rootCmd.AddCommand(balanceCommand)
}

func runBalanceCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	if balanceAccount == "" {
		return fmt.Errorf("--account is required")
	}

	databaseURL := balanceDatabaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}

	projectStore, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer projectStore.Close()

	ledger := credits.NewPostgresLedger(projectStore.Pool())
	balance, err := ledger.Balance(ctx, balanceAccount)
	if err != nil {
		return fmt.Errorf("failed to fetch balance: %w", err)
	}

	fmt.Printf("Account %s: %d credits remaining\n", balanceAccount, balance)
	return nil
}
