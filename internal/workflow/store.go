package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lucasnoah/patchfactory/internal/recovery"
)

// Store persists per-run artifacts on disk: the workflow result, the generated
// diff, and the attempt log. The pipeline itself never writes to the working
// tree; this directory is the only thing it touches.
type Store struct {
	baseDir string // defaults to ~/.patchfactory/runs
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.patchfactory/runs, creating the
// directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".patchfactory", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// NewRunID returns a timestamp-based run identifier.
func NewRunID(now time.Time) string {
	return "run-" + now.UTC().Format("20060102-150405")
}

// SaveResult writes the workflow result and, when a diff exists, the
// patch.diff artifact next to it.
func (s *Store) SaveResult(result *WorkflowResult) error {
	dir := s.runDir(result.RunID)
	if err := WriteJSON(filepath.Join(dir, "result.json"), result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if result.UnifiedDiff != "" {
		if err := WriteAtomic(filepath.Join(dir, "patch.diff"), []byte(result.UnifiedDiff)); err != nil {
			return fmt.Errorf("save patch: %w", err)
		}
	}
	return nil
}

// LoadResult reads a stored workflow result.
func (s *Store) LoadResult(runID string) (*WorkflowResult, error) {
	var result WorkflowResult
	if err := ReadJSON(filepath.Join(s.runDir(runID), "result.json"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRuns returns stored run IDs, newest first. The timestamp-based IDs make
// lexical order chronological.
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read runs dir: %w", err)
	}

	var runs []string
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	return runs, nil
}

func (s *Store) errorsPath() string {
	return filepath.Join(s.baseDir, "errors.json")
}

// MergeErrorSummary folds a run's recovery summary into the cross-run
// aggregate so error history survives process restarts.
func (s *Store) MergeErrorSummary(sum recovery.Summary) error {
	if sum.TotalErrors == 0 {
		return nil
	}
	agg, err := s.LoadErrorSummary()
	if err != nil {
		return err
	}

	agg.TotalErrors += sum.TotalErrors
	agg.RecoveryAttempts += sum.RecoveryAttempts
	agg.SuccessfulRecoveries += sum.SuccessfulRecoveries
	if agg.ByCategory == nil {
		agg.ByCategory = make(map[recovery.Category]int)
	}
	if agg.BySeverity == nil {
		agg.BySeverity = make(map[recovery.Severity]int)
	}
	for c, n := range sum.ByCategory {
		agg.ByCategory[c] += n
	}
	for sev, n := range sum.BySeverity {
		agg.BySeverity[sev] += n
	}
	agg.RecentErrors = append(agg.RecentErrors, sum.RecentErrors...)
	if len(agg.RecentErrors) > 10 {
		agg.RecentErrors = agg.RecentErrors[len(agg.RecentErrors)-10:]
	}
	if agg.RecoveryAttempts > 0 {
		agg.RecoveryRate = float64(agg.SuccessfulRecoveries) / float64(agg.RecoveryAttempts)
	}
	return WriteJSON(s.errorsPath(), agg)
}

// LoadErrorSummary returns the cross-run error aggregate, or a zero summary
// when none has been recorded.
func (s *Store) LoadErrorSummary() (recovery.Summary, error) {
	var agg recovery.Summary
	err := ReadJSON(s.errorsPath(), &agg)
	if os.IsNotExist(err) {
		return recovery.Summary{}, nil
	}
	if err != nil {
		return recovery.Summary{}, err
	}
	return agg, nil
}

// ClearErrorSummary discards the cross-run error aggregate.
func (s *Store) ClearErrorSummary() error {
	err := os.Remove(s.errorsPath())
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
