package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"kawadi-core/pkg/config"
	"kawadi-core/pkg/database"
	"kawadi-core/pkg/logger"
)

// openDB is swapped in tests.
var openDB = func() (*gorm.DB, error) {
	_ = godotenv.Load()
	config.Init()
	logger.Init(config.Global.App.Env)
	return database.Open(config.Global.DB, config.Global.App.Env)
}

var rootCmd = &cobra.Command{
	Use:   "kawadi-cli",
	Short: "Operator tools for the Kawadi credit ledger",
	Long: `Operator tools for the Kawadi credit ledger.
Seeds the credit package catalog, audits collector ledgers and prints balances.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
