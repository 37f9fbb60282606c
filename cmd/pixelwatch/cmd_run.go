package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"pixelwatch/internal/config"
	"pixelwatch/internal/runner"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runCmd validates every configured target against its baseline
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Validate all configured pages against their baselines",
	Long: `Runs the full validation pipeline for every target in the config:
navigate, wait for visual stability, capture, compare, explain, record.

Targets without a baseline get one created from the current capture and are
reported as baseline_created. Failed checks soft-fail: the run continues and
the summary reports them.`,
	RunE: runValidation,
}

func runValidation(cmd *cobra.Command, args []string) error {
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

	report, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if reportPath != "" {
		if err := report.WriteJSON(reportPath); err != nil {
			logger.Warn("Could not write run report", zap.Error(err))
		}
	}
	printSummary(report)

	if report.Errors > 0 {
		return fmt.Errorf("%d check(s) could not be executed", report.Errors)
	}
	return nil
}

func printSummary(report *runner.Report) {
	fmt.Printf("\nDevice: %s\n", report.Device)
	for _, check := range report.Checks {
		switch check.Status {
		case runner.CheckPassed:
			fmt.Printf("  PASS  %-40s mismatch %.2f%%\n", check.Name, check.MismatchPercent)
		case runner.CheckFailed:
			fmt.Printf("  FAIL  %-40s mismatch %.2f%% diff %s\n", check.Name, check.MismatchPercent, check.DiffPath)
			if check.ExplanationTable != "" {
				fmt.Println(indent(check.ExplanationTable, "        "))
			}
		case runner.CheckBaselineCreated:
			fmt.Printf("  NEW   %-40s baseline %s\n", check.Name, check.BaselinePath)
		case runner.CheckError:
			fmt.Printf("  ERROR %-40s %s\n", check.Name, check.Error)
		}
	}
	fmt.Printf("passed=%d failed=%d baselines=%d errors=%d\n",
		report.Passed, report.Failed, report.Baselines, report.Errors)
}

func indent(s, prefix string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if device != "" {
		cfg.Device = device
		if cfg.Device != "desktop" && cfg.Device != "mobile" {
			return cfg, fmt.Errorf("invalid device %q (want desktop or mobile)", cfg.Device)
		}
	}
	return cfg, nil
}
