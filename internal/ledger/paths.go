package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Screenshot directory layout. The tree is shared with the dashboard tooling,
// so paths must stay byte-compatible:
//
//	screenshots/{current,baseline,diff}/{desktop,mobile}/<name>-{kind}.png
const (
	ScreenshotDir = "screenshots"
	CurrentDir    = ScreenshotDir + "/current"
	BaselineDir   = ScreenshotDir + "/baseline"
	DiffDir       = ScreenshotDir + "/diff"
)

// ScreenshotName sanitizes a test title into a file-name stem: everything up
// to the first " -" separator, spaces replaced with hyphens.
func ScreenshotName(testName string) string {
	name, _, _ := strings.Cut(testName, " -")
	return strings.ReplaceAll(name, " ", "-")
}

// Paths resolves screenshot file locations for one (test, device) identity.
type Paths struct {
	Root   string // prepended to the screenshots/ tree; empty = working dir
	Device string // "desktop" or "mobile"
}

func (p Paths) file(kindDir, testName, suffix string) string {
	return filepath.Join(p.Root, kindDir, p.Device,
		fmt.Sprintf("%s-%s.png", ScreenshotName(testName), suffix))
}

// Current returns the path for the freshly captured screenshot.
func (p Paths) Current(testName string) string { return p.file(CurrentDir, testName, "current") }

// Baseline returns the path for the reference screenshot.
func (p Paths) Baseline(testName string) string { return p.file(BaselineDir, testName, "baseline") }

// Diff returns the path for the rendered diff artifact.
func (p Paths) Diff(testName string) string { return p.file(DiffDir, testName, "diff") }

// CreateFolders creates the full screenshot tree for both devices.
func (p Paths) CreateFolders() error {
	for _, kind := range []string{BaselineDir, CurrentDir, DiffDir} {
		for _, device := range []string{"desktop", "mobile"} {
			if err := os.MkdirAll(filepath.Join(p.Root, kind, device), 0o755); err != nil {
				return fmt.Errorf("create %s/%s: %w", kind, device, err)
			}
		}
	}
	return nil
}

// StorageKey derives the object-storage key for an artifact by stripping the
// leading "screenshots" segment from its path, matching the public URL scheme
// of the reporting dashboard.
func StorageKey(path string) string {
	rel := path
	if r, err := filepath.Rel(".", path); err == nil {
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if i := strings.Index(rel, ScreenshotDir+"/"); i >= 0 {
		return rel[i+len(ScreenshotDir):]
	}
	return rel
}
