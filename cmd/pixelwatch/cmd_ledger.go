package main

import (
	"fmt"

	"pixelwatch/internal/ledger"

	"github.com/spf13/cobra"
)

// ledgerCmd inspects the verdict store
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "List recorded verdicts and baselines",
	RunE:  listLedger,
}

func listLedger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg := ledger.New(ledger.Options{
		CI:        cfg.CI,
		Device:    cfg.Device,
		DBFile:    cfg.Ledger.DBFile,
		Root:      cfg.Ledger.Dir,
		PublicURL: cfg.Storage.PublicURL,
	}, logger)
	defer lg.Close()

	verdicts, err := lg.VerdictRecords()
	if err != nil {
		return err
	}
	baselines, err := lg.BaselineRecords()
	if err != nil {
		return err
	}

	fmt.Printf("Verdicts (%d):\n", len(verdicts))
	for _, v := range verdicts {
		fmt.Printf("  %s  %-8s %-40s %s %s\n",
			v.CreatedAt.Format("2006-01-02 15:04:05"), v.Status, v.Name, v.Device, v.ImageURL)
	}
	fmt.Printf("Baselines (%d):\n", len(baselines))
	for _, b := range baselines {
		fmt.Printf("  %s  %s\n", b.CreatedAt.Format("2006-01-02 15:04:05"), b.Name)
	}
	return nil
}
