// Package ledger persists baseline and verdict records for visual regression
// runs, and owns the on-disk screenshot layout. Records live in sqlite; the
// connection is owned by whoever constructs the Ledger (the cmd bootstrap),
// opened lazily and safe to reopen after Close.
//
// Persistence is context-gated: in a CI run every record is written, in a
// local run record writes are skipped for fast iteration while baseline file
// copies still happen.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Verdict status values stored in the visual_matrix table.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// BaselineRecord is one baseline creation event. Append-only.
type BaselineRecord struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// VerdictRecord is the outcome of one validation run. Append-only.
type VerdictRecord struct {
	ID        int64
	Name      string
	Device    string
	Status    string
	ImageURL  string
	CreatedAt time.Time
}

// Options configures a Ledger.
type Options struct {
	CI        bool
	Device    string
	DBFile    string // override; computed from CI/Device when empty
	Root      string // root of the screenshots/ tree
	PublicURL string // public storage prefix for failed-verdict image URLs
}

// Ledger is the persistent store of baseline and verdict records.
type Ledger struct {
	opts   Options
	paths  Paths
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

// New constructs a Ledger. The sqlite connection is opened on first use.
func New(opts Options, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Device == "" {
		opts.Device = "desktop"
	}
	return &Ledger{
		opts:   opts,
		paths:  Paths{Root: opts.Root, Device: opts.Device},
		logger: logger.Named("ledger"),
	}
}

// Paths returns the screenshot path resolver for this ledger's device.
func (l *Ledger) Paths() Paths { return l.paths }

// DBFile returns the database file backing this ledger. CI runs get one file
// per device so parallel device jobs never share a connection.
func (l *Ledger) DBFile() string {
	if l.opts.DBFile != "" {
		return l.opts.DBFile
	}
	if l.opts.CI {
		return filepath.Join(l.opts.Root, fmt.Sprintf("visual_%s.db", l.opts.Device))
	}
	return filepath.Join(l.opts.Root, "visual.db")
}

// ensureOpen opens the connection and schema if needed. Callers must hold mu.
// A Ledger used after Close transparently reconnects.
func (l *Ledger) ensureOpen() (*sql.DB, error) {
	if l.db != nil {
		return l.db, nil
	}

	db, err := sql.Open("sqlite3", l.DBFile())
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	l.logger.Info("Ledger connection opened", zap.String("file", l.DBFile()), zap.Bool("ci", l.opts.CI))
	l.db = db
	return db, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS visual_matrix (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		device TEXT NOT NULL,
		status TEXT NOT NULL,
		imageUrl TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS baseline (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	return nil
}

// Init opens the connection and creates the schema. Optional; every write
// path opens lazily, but suite bootstrap calls this to fail fast.
func (l *Ledger) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.ensureOpen()
	return err
}

// Close tears down the connection. Safe to call more than once; later calls
// on the ledger reopen transparently.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	if err != nil {
		l.logger.Warn("Ledger close failed", zap.Error(err))
		return err
	}
	l.logger.Info("Ledger connection closed")
	return nil
}

// HasBaseline reports whether a baseline image exists for the test.
func (l *Ledger) HasBaseline(testName string) bool {
	_, err := os.Stat(l.paths.Baseline(testName))
	return err == nil
}

// CreateBaseline copies the current capture into the baseline slot and
// appends one baseline record. The file copy always happens; the durable
// bookkeeping (sqlite row, JSON sidecar) is skipped outside CI. Creating a
// baseline that already exists overwrites the file; prior records are never
// mutated or removed.
func (l *Ledger) CreateBaseline(testName, sourceImage string) (string, error) {
	baselinePath := l.paths.Baseline(testName)
	if err := copyFile(sourceImage, baselinePath); err != nil {
		return "", fmt.Errorf("copy baseline: %w", err)
	}
	l.logger.Info("Baseline image stored",
		zap.String("test", testName),
		zap.String("path", baselinePath))

	if !l.opts.CI {
		l.logger.Debug("Skipping baseline record outside CI")
		return baselinePath, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	db, err := l.ensureOpen()
	if err != nil {
		// Baseline generation is best effort; the image copy already landed.
		l.logger.Warn("Baseline record skipped", zap.Error(err))
		return baselinePath, nil
	}
	if _, err := db.Exec(`INSERT INTO baseline (name) VALUES (?)`, baselinePath); err != nil {
		l.logger.Warn("Baseline record insert failed", zap.Error(err))
		return baselinePath, nil
	}
	if err := l.appendBaselineSidecar(baselinePath); err != nil {
		l.logger.Warn("Baseline sidecar update failed", zap.Error(err))
	}
	return baselinePath, nil
}

// appendBaselineSidecar maintains the baseline JSON list kept for the
// dashboard. One file per device in CI, one shared file otherwise.
func (l *Ledger) appendBaselineSidecar(baselinePath string) error {
	name := "baseline.json"
	if l.opts.CI {
		name = fmt.Sprintf("baseline-%s.json", l.opts.Device)
	}
	sidecar := filepath.Join(l.opts.Root, name)

	var entries []string
	if data, err := os.ReadFile(sidecar); err == nil {
		if err := json.Unmarshal(data, &entries); err != nil {
			l.logger.Warn("Invalid baseline sidecar, starting fresh", zap.String("file", sidecar))
			entries = nil
		}
	}
	for _, e := range entries {
		if e == baselinePath {
			return nil
		}
	}
	entries = append(entries, baselinePath)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sidecar, data, 0o644)
}

// ImageURL derives the public storage URL for a diff artifact.
func (l *Ledger) ImageURL(diffPath string) string {
	if diffPath == "" {
		return ""
	}
	return l.opts.PublicURL + StorageKey(diffPath)
}

// RecordVerdict appends one verdict row. A failed verdict carries the public
// storage URL derived from the diff path; a passed verdict carries an empty
// URL. Outside CI this is a no-op. Unlike baseline bookkeeping, errors here
// propagate: recording the verdict is the point of the call.
func (l *Ledger) RecordVerdict(testName, device, status, diffPath string) error {
	switch status {
	case StatusPassed, StatusFailed:
	default:
		return fmt.Errorf("invalid verdict status %q", status)
	}

	if !l.opts.CI {
		l.logger.Debug("Skipping verdict record outside CI",
			zap.String("test", testName), zap.String("status", status))
		return nil
	}

	imageURL := ""
	if status == StatusFailed {
		imageURL = l.ImageURL(diffPath)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	db, err := l.ensureOpen()
	if err != nil {
		return err
	}
	if _, err := db.Exec(
		`INSERT INTO visual_matrix (name, device, status, imageUrl) VALUES (?, ?, ?, ?)`,
		testName, device, status, imageURL,
	); err != nil {
		return fmt.Errorf("record verdict for %s: %w", testName, err)
	}
	l.logger.Info("Verdict recorded",
		zap.String("test", testName),
		zap.String("device", device),
		zap.String("status", status))
	return nil
}

// BaselineRecords returns all baseline records, newest first.
func (l *Ledger) BaselineRecords() ([]BaselineRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	db, err := l.ensureOpen()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT id, name, created_at FROM baseline ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query baseline records: %w", err)
	}
	defer rows.Close()

	var records []BaselineRecord
	for rows.Next() {
		var r BaselineRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// VerdictRecords returns all verdict records, newest first.
func (l *Ledger) VerdictRecords() ([]VerdictRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	db, err := l.ensureOpen()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(
		`SELECT id, name, device, status, imageUrl, created_at
		 FROM visual_matrix ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query verdict records: %w", err)
	}
	defer rows.Close()

	var records []VerdictRecord
	for rows.Next() {
		var r VerdictRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Device, &r.Status, &r.ImageURL, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
