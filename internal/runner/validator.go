package runner

import (
	"context"
	"fmt"

	"pixelwatch/internal/compare"
	"pixelwatch/internal/ledger"
	"pixelwatch/internal/storage"

	"go.uber.org/zap"
)

// Verdict is the terminal judgement for one comparison.
type Verdict struct {
	Passed          bool    `json:"passed"`
	MismatchPercent float64 `json:"mismatch_percent"`
	Tolerance       float64 `json:"tolerance"`
	DiffPath        string  `json:"diff_path,omitempty"`
	ImageURL        string  `json:"image_url,omitempty"`
	// SoftFailed marks a failed check that should not abort the run: the
	// failure is recorded and reported, then the suite moves on.
	SoftFailed bool `json:"soft_failed,omitempty"`
}

// Validator turns a mismatch score into a verdict and persists it. The rule
// is strict at the boundary: mismatch below tolerance passes, mismatch equal
// to or above it fails.
type Validator struct {
	tolerance float64
	ledger    *ledger.Ledger
	uploader  *storage.Uploader // nil when storage is unconfigured
	logger    *zap.Logger
}

// NewValidator builds a validator. uploader may be nil.
func NewValidator(tolerance float64, lg *ledger.Ledger, uploader *storage.Uploader, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		tolerance: tolerance,
		ledger:    lg,
		uploader:  uploader,
		logger:    logger.Named("validator"),
	}
}

// Validate records the verdict for one comparison result. Verdict-recording
// errors propagate; the artifact upload is best-effort.
func (v *Validator) Validate(ctx context.Context, testName, device string, res *compare.Result) (*Verdict, error) {
	verdict := &Verdict{
		MismatchPercent: res.MismatchPercent,
		Tolerance:       v.tolerance,
	}

	if res.MismatchPercent < v.tolerance {
		verdict.Passed = true
		v.logger.Info("Visual check passed",
			zap.String("test", testName),
			zap.Float64("mismatch_percent", res.MismatchPercent),
			zap.Float64("tolerance", v.tolerance))
		if err := v.ledger.RecordVerdict(testName, device, ledger.StatusPassed, ""); err != nil {
			return nil, fmt.Errorf("record passed verdict: %w", err)
		}
		return verdict, nil
	}

	verdict.Passed = false
	verdict.SoftFailed = true
	verdict.DiffPath = res.DiffPath
	verdict.ImageURL = v.ledger.ImageURL(res.DiffPath)
	v.logger.Warn("Visual check failed",
		zap.String("test", testName),
		zap.Float64("mismatch_percent", res.MismatchPercent),
		zap.Float64("tolerance", v.tolerance),
		zap.String("diff", res.DiffPath))

	if v.uploader != nil && res.DiffPath != "" {
		key := ledger.StorageKey(res.DiffPath)
		if err := v.uploader.Upload(ctx, key, res.DiffPath); err != nil {
			v.logger.Warn("Diff upload failed", zap.String("test", testName), zap.Error(err))
		}
	}

	if err := v.ledger.RecordVerdict(testName, device, ledger.StatusFailed, res.DiffPath); err != nil {
		return nil, fmt.Errorf("record failed verdict: %w", err)
	}
	return verdict, nil
}
