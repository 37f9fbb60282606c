package runner

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"pixelwatch/internal/compare"
	"pixelwatch/internal/explain"
)

// Check is the reported outcome of one target.
type Check struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Device string `json:"device"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	MismatchPercent float64            `json:"mismatch_percent"`
	CurrentPath     string             `json:"current_path,omitempty"`
	BaselinePath    string             `json:"baseline_path,omitempty"`
	DiffPath        string             `json:"diff_path,omitempty"`
	ImageURL        string             `json:"image_url,omitempty"`
	TextDiffs       []compare.LineDiff `json:"text_diffs,omitempty"`

	Explanation      *explain.Explanation `json:"explanation,omitempty"`
	ExplanationTable string               `json:"explanation_table,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Report aggregates one run.
type Report struct {
	Device     string    `json:"device"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Checks     []*Check  `json:"checks"`

	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Baselines int `json:"baselines"`
	Errors    int `json:"errors"`
}

// NewReport starts an empty report for the device.
func NewReport(device string) *Report {
	return &Report{Device: device, StartedAt: time.Now()}
}

// Add appends a check and updates the counters.
func (r *Report) Add(check *Check) {
	r.Checks = append(r.Checks, check)
	switch check.Status {
	case CheckPassed:
		r.Passed++
	case CheckFailed:
		r.Failed++
	case CheckBaselineCreated:
		r.Baselines++
	case CheckError:
		r.Errors++
	}
}

// Finish stamps the end time.
func (r *Report) Finish() { r.FinishedAt = time.Now() }

// Clean reports whether no check failed or errored. Failed checks soft-fail
// the run, so callers use this for exit-code decisions only.
func (r *Report) Clean() bool { return r.Failed == 0 && r.Errors == 0 }

// WriteJSON persists the report.
func (r *Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
