package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"pixelwatch/internal/runner"

	"github.com/spf13/cobra"
)

// baselineCmd refreshes the stored reference captures
var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Capture fresh baselines for all configured pages",
	Long: `Captures every target and overwrites its baseline with the fresh
screenshot. Later runs are judged against these references. Existing
baseline records are preserved; a new record is appended per capture.`,
	RunE: refreshBaselines,
}

func refreshBaselines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("no targets configured")
	}

	r := runner.New(cfg, logger)
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := r.Setup(ctx); err != nil {
		return err
	}
	defer r.Teardown()

	report, err := r.RefreshBaselines(ctx)
	if err != nil {
		return err
	}

	for _, check := range report.Checks {
		if check.Status == runner.CheckError {
			fmt.Printf("  ERROR %-40s %s\n", check.Name, check.Error)
		} else {
			fmt.Printf("  NEW   %-40s %s\n", check.Name, check.BaselinePath)
		}
	}
	if report.Errors > 0 {
		return fmt.Errorf("%d baseline(s) could not be captured", report.Errors)
	}
	return nil
}
