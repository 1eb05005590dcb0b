/*
Package cli is the tripledger command line.

COMMANDS:
  tripledger serve                     HTTP API plus background due scan
  tripledger scan [--today D]          One installment due scan, then exit
  tripledger verify-credit ID...       Rebuild credit ledgers and report
  tripledger regenerate-bill ID        Create a paid recurring bill's successor

Every command reads the same configuration (see config/config.go): the file
named by --config or TRIPLEDGER_CONFIG, then environment overrides.
*/
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/trip-ledger/config"
	"github.com/warp/trip-ledger/logging"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "tripledger",
	Short:         "Payment and credit reconciliation for trip operators",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("TRIPLEDGER_CONFIG"), "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.Setup(cfg.Log.Level, cfg.Log.JSON), nil
}
