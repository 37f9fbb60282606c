package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string
	device     string
	reportPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pixelwatch",
	Short: "pixelwatch - automated visual regression validation",
	Long: `pixelwatch captures screenshots of live pages once they are visually
stable, compares them pixel-by-pixel (and via OCR) against stored baselines,
asks a vision model to explain any differences, and records pass/fail
verdicts in a sqlite ledger.

A page with no baseline gets one created from the current capture; every
later run is judged against it until the baseline is refreshed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logger
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pixelwatch.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "device profile: desktop or mobile (overrides config)")

	runCmd.Flags().StringVar(&reportPath, "report", "", "write the JSON run report to this path")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(baselineCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
