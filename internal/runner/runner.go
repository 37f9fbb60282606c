// Package runner drives the full validation pipeline: open a page, wait for
// visual stability, capture, compare against the baseline, explain failures
// and record the verdict. Targets run sequentially against one shared
// browser; a failed check soft-fails so the rest of the suite still runs.
package runner

import (
	"context"
	"fmt"
	"time"

	"pixelwatch/internal/browser"
	"pixelwatch/internal/compare"
	"pixelwatch/internal/config"
	"pixelwatch/internal/explain"
	"pixelwatch/internal/ledger"
	"pixelwatch/internal/readiness"
	"pixelwatch/internal/storage"

	"go.uber.org/zap"
)

// Check statuses reported per target.
const (
	CheckPassed          = "passed"
	CheckFailed          = "failed"
	CheckBaselineCreated = "baseline_created"
	CheckError           = "error"
)

// Runner owns the wired pipeline for one device run.
type Runner struct {
	cfg       config.Config
	manager   *browser.Manager
	detector  *readiness.Detector
	engine    *compare.Engine
	chain     *explain.Chain
	ledger    *ledger.Ledger
	uploader  *storage.Uploader
	validator *Validator
	logger    *zap.Logger
}

// New wires a runner from config.
func New(cfg config.Config, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	lg := ledger.New(ledger.Options{
		CI:        cfg.CI,
		Device:    cfg.Device,
		DBFile:    cfg.Ledger.DBFile,
		Root:      cfg.Ledger.Dir,
		PublicURL: cfg.Storage.PublicURL,
	}, logger)
	uploader := storage.NewUploader(cfg.Storage, logger)

	return &Runner{
		cfg:       cfg,
		manager:   browser.NewManager(cfg.Browser, logger),
		detector:  readiness.NewDetector(cfg.Readiness, logger),
		engine:    compare.NewEngine(nil, nil, cfg.Tolerance, logger),
		chain:     explain.NewChain(cfg.Explain, logger),
		ledger:    lg,
		uploader:  uploader,
		validator: NewValidator(cfg.Tolerance, lg, uploader, logger),
		logger:    logger.Named("runner"),
	}
}

// Ledger exposes the verdict store, for the record-listing command.
func (r *Runner) Ledger() *ledger.Ledger { return r.ledger }

// Setup prepares the screenshot tree, the ledger and the browser.
func (r *Runner) Setup(ctx context.Context) error {
	if err := r.ledger.Paths().CreateFolders(); err != nil {
		return fmt.Errorf("create screenshot folders: %w", err)
	}
	if err := r.ledger.Init(); err != nil {
		return err
	}
	return r.manager.Start(ctx)
}

// Teardown releases the browser and the ledger connection.
func (r *Runner) Teardown() {
	if err := r.manager.Shutdown(); err != nil {
		r.logger.Warn("Browser shutdown failed", zap.Error(err))
	}
	if err := r.ledger.Close(); err != nil {
		r.logger.Warn("Ledger close failed", zap.Error(err))
	}
}

// Run validates every configured target and returns the aggregated report.
// Per-target infrastructure errors are absorbed into the report; only
// verdict-recording failures abort the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := NewReport(r.cfg.Device)
	for _, target := range r.cfg.Targets {
		check, err := r.RunTarget(ctx, target)
		if err != nil {
			return report, err
		}
		report.Add(check)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	report.Finish()
	r.logger.Info("Run complete",
		zap.Int("passed", report.Passed),
		zap.Int("failed", report.Failed),
		zap.Int("baselines", report.Baselines),
		zap.Int("errors", report.Errors))
	return report, nil
}

// RunTarget executes the capture+compare cycle for one target. The returned
// error is reserved for verdict-recording failures; everything else lands in
// the check itself.
func (r *Runner) RunTarget(ctx context.Context, target config.Target) (*Check, error) {
	check := &Check{Name: target.Name, URL: target.URL, Device: r.cfg.Device, StartedAt: time.Now()}
	defer func() { check.Elapsed = time.Since(check.StartedAt) }()

	currentPath, err := r.capture(ctx, target)
	if err != nil {
		r.logger.Error("Capture failed", zap.String("test", target.Name), zap.Error(err))
		check.Status = CheckError
		check.Error = err.Error()
		return check, nil
	}
	check.CurrentPath = currentPath

	if !r.ledger.HasBaseline(target.Name) {
		baselinePath, err := r.ledger.CreateBaseline(target.Name, currentPath)
		if err != nil {
			check.Status = CheckError
			check.Error = err.Error()
			return check, nil
		}
		check.Status = CheckBaselineCreated
		check.BaselinePath = baselinePath
		return check, nil
	}

	paths := r.ledger.Paths()
	check.BaselinePath = paths.Baseline(target.Name)
	res, err := r.engine.Compare(ctx, currentPath, check.BaselinePath, paths.Diff(target.Name))
	if err != nil {
		check.Status = CheckError
		check.Error = err.Error()
		return check, nil
	}
	check.MismatchPercent = res.MismatchPercent
	check.TextDiffs = res.TextDiffs

	if res.MismatchPercent >= r.cfg.Tolerance && res.DiffPath != "" && r.cfg.Explain.Enabled {
		explanation := r.chain.Explain(ctx, check.BaselinePath, currentPath, res.DiffPath)
		check.Explanation = explanation
		check.ExplanationTable = explain.RenderMarkdown(explanation)
	}

	verdict, err := r.validator.Validate(ctx, target.Name, r.cfg.Device, res)
	if err != nil {
		return check, err
	}
	check.DiffPath = verdict.DiffPath
	check.ImageURL = verdict.ImageURL
	if verdict.Passed {
		check.Status = CheckPassed
	} else {
		check.Status = CheckFailed
	}
	return check, nil
}

// RefreshBaselines captures every target and overwrites its baseline from
// the fresh capture. Baselines are also pushed to object storage when it is
// configured, so the dashboard serves the new reference immediately.
func (r *Runner) RefreshBaselines(ctx context.Context) (*Report, error) {
	report := NewReport(r.cfg.Device)
	for _, target := range r.cfg.Targets {
		check := &Check{Name: target.Name, URL: target.URL, Device: r.cfg.Device, StartedAt: time.Now()}

		currentPath, err := r.capture(ctx, target)
		if err != nil {
			r.logger.Error("Baseline capture failed", zap.String("test", target.Name), zap.Error(err))
			check.Status = CheckError
			check.Error = err.Error()
		} else {
			baselinePath, err := r.ledger.CreateBaseline(target.Name, currentPath)
			if err != nil {
				check.Status = CheckError
				check.Error = err.Error()
			} else {
				check.Status = CheckBaselineCreated
				check.CurrentPath = currentPath
				check.BaselinePath = baselinePath
				if r.uploader != nil {
					key := ledger.StorageKey(baselinePath)
					if err := r.uploader.Upload(ctx, key, baselinePath); err != nil {
						r.logger.Warn("Baseline upload failed", zap.String("test", target.Name), zap.Error(err))
					}
				}
			}
		}

		check.Elapsed = time.Since(check.StartedAt)
		report.Add(check)
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}
	report.Finish()
	return report, nil
}

// capture navigates to the target, waits for visual stability and writes the
// current screenshot. Element-scoped targets capture just the selector;
// everything else is a full-page capture.
func (r *Runner) capture(ctx context.Context, target config.Target) (string, error) {
	session, err := r.manager.NewSession(ctx, r.cfg.Device)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("Session close failed", zap.Error(err))
		}
	}()

	if err := session.Navigate(ctx, target.URL); err != nil {
		return "", err
	}

	outcome := r.detector.WaitUntilReady(ctx, session)
	r.logger.Info("Readiness wait finished",
		zap.String("test", target.Name),
		zap.Bool("satisfied", outcome.Satisfied),
		zap.Duration("elapsed", outcome.Elapsed),
		zap.String("reason", outcome.Reason))

	currentPath := r.ledger.Paths().Current(target.Name)
	if target.Selector != "" {
		err = session.ElementScreenshot(ctx, target.Selector, currentPath)
	} else {
		err = session.Screenshot(ctx, currentPath, true)
	}
	if err != nil {
		return "", err
	}
	return currentPath, nil
}
