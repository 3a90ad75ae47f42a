package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "stockledger",
	Short: "Warehouse stock-sheet ledger and reconciliation service",
	Long:  "Ingests emailed stock-sheet spreadsheets, expands them into unit-quantity ledger rows, and reconciles the ledger against the physical inventory table.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
