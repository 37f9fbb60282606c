package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestLedger(t *testing.T, ci bool) (*Ledger, string) {
	t.Helper()
	root := t.TempDir()
	l := New(Options{
		CI:        ci,
		Device:    "desktop",
		Root:      root,
		PublicURL: "https://cdn.example.com",
	}, zap.NewNop())
	if err := l.Paths().CreateFolders(); err != nil {
		t.Fatalf("CreateFolders: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, root
}

func writeSource(t *testing.T, root string) string {
	t.Helper()
	src := filepath.Join(root, "capture.png")
	if err := os.WriteFile(src, []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestDBFilePerDeviceInCI(t *testing.T) {
	ci, root := newTestLedger(t, true)
	if got, want := ci.DBFile(), filepath.Join(root, "visual_desktop.db"); got != want {
		t.Errorf("CI db file = %q, want %q", got, want)
	}

	local, root := newTestLedger(t, false)
	if got, want := local.DBFile(), filepath.Join(root, "visual.db"); got != want {
		t.Errorf("local db file = %q, want %q", got, want)
	}
}

func TestCreateBaselineCopiesFile(t *testing.T) {
	l, root := newTestLedger(t, false)
	src := writeSource(t, root)

	if l.HasBaseline("Landing Page - hero") {
		t.Fatal("baseline should not exist yet")
	}
	path, err := l.CreateBaseline("Landing Page - hero", src)
	if err != nil {
		t.Fatalf("CreateBaseline: %v", err)
	}
	if !strings.HasSuffix(path, filepath.Join("baseline", "desktop", "Landing-Page-baseline.png")) {
		t.Errorf("unexpected baseline path %q", path)
	}
	if !l.HasBaseline("Landing Page - hero") {
		t.Error("HasBaseline should report true after creation")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("baseline content = %q, err %v", data, err)
	}
}

func TestCreateBaselineLocalSkipsRecords(t *testing.T) {
	l, root := newTestLedger(t, false)
	src := writeSource(t, root)

	if _, err := l.CreateBaseline("Checkout", src); err != nil {
		t.Fatalf("CreateBaseline: %v", err)
	}
	records, err := l.BaselineRecords()
	if err != nil {
		t.Fatalf("BaselineRecords: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("local run should not persist records, got %d", len(records))
	}
	if _, err := os.Stat(filepath.Join(root, "baseline.json")); !os.IsNotExist(err) {
		t.Error("local run should not write the baseline sidecar")
	}
}

func TestCreateBaselineCIAppendsRecordsAndSidecar(t *testing.T) {
	l, root := newTestLedger(t, true)
	src := writeSource(t, root)

	first, err := l.CreateBaseline("Checkout", src)
	if err != nil {
		t.Fatalf("CreateBaseline: %v", err)
	}
	// Recreating overwrites the file but appends a second record.
	if _, err := l.CreateBaseline("Checkout", src); err != nil {
		t.Fatalf("CreateBaseline again: %v", err)
	}

	records, err := l.BaselineRecords()
	if err != nil {
		t.Fatalf("BaselineRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d baseline records, want 2", len(records))
	}
	if records[0].ID <= records[1].ID {
		t.Error("records should be newest first")
	}
	if records[0].Name != first {
		t.Errorf("record name = %q, want %q", records[0].Name, first)
	}

	sidecar := filepath.Join(root, "baseline-desktop.json")
	data, err := os.ReadFile(sidecar)
	if err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("sidecar not JSON: %v", err)
	}
	if len(entries) != 1 || entries[0] != first {
		t.Errorf("sidecar entries = %v, want exactly one %q", entries, first)
	}
}

func TestRecordVerdict(t *testing.T) {
	l, _ := newTestLedger(t, true)

	if err := l.RecordVerdict("Checkout", "desktop", "flaky", ""); err == nil {
		t.Error("invalid status should be rejected")
	}

	if err := l.RecordVerdict("Checkout", "desktop", StatusPassed, ""); err != nil {
		t.Fatalf("RecordVerdict passed: %v", err)
	}
	diff := "screenshots/diff/desktop/Checkout-diff.png"
	if err := l.RecordVerdict("Checkout", "desktop", StatusFailed, diff); err != nil {
		t.Fatalf("RecordVerdict failed: %v", err)
	}

	records, err := l.VerdictRecords()
	if err != nil {
		t.Fatalf("VerdictRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d verdict records, want 2", len(records))
	}
	// Newest first: the failed verdict.
	if records[0].Status != StatusFailed {
		t.Errorf("latest status = %q, want failed", records[0].Status)
	}
	wantURL := "https://cdn.example.com/diff/desktop/Checkout-diff.png"
	if records[0].ImageURL != wantURL {
		t.Errorf("failed image url = %q, want %q", records[0].ImageURL, wantURL)
	}
	if records[1].ImageURL != "" {
		t.Errorf("passed image url = %q, want empty", records[1].ImageURL)
	}
}

func TestRecordVerdictLocalIsNoop(t *testing.T) {
	l, _ := newTestLedger(t, false)
	if err := l.RecordVerdict("Checkout", "desktop", StatusPassed, ""); err != nil {
		t.Fatalf("RecordVerdict: %v", err)
	}
	records, err := l.VerdictRecords()
	if err != nil {
		t.Fatalf("VerdictRecords: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("local run should not persist verdicts, got %d", len(records))
	}
}

func TestLedgerReopensAfterClose(t *testing.T) {
	l, _ := newTestLedger(t, true)
	if err := l.RecordVerdict("Checkout", "desktop", StatusPassed, ""); err != nil {
		t.Fatalf("RecordVerdict: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	records, err := l.VerdictRecords()
	if err != nil {
		t.Fatalf("VerdictRecords after Close: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records after reopen, want 1", len(records))
	}
}
