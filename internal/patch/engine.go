package patch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// FileReader abstracts reading repository files so the engine can be tested
// without a real working tree.
type FileReader interface {
	ReadFile(path string) (string, error)
}

// osReader reads files relative to a repository root.
type osReader struct {
	root string
}

func (r osReader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.root, path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Patch is the result of applying an operation set: a unified diff plus the
// change stats derived from it. The engine never writes to the working tree;
// applying the diff is the caller's job.
type Patch struct {
	UnifiedDiff  string `json:"unified_diff"`
	FilesChanged int    `json:"files_changed"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// Engine converts validated operation sets into unified diffs.
type Engine struct {
	reader FileReader
	guards Guardrails
}

// NewEngine returns an engine reading files under root with the given
// guardrails.
func NewEngine(root string, guards Guardrails) *Engine {
	return &Engine{reader: osReader{root: root}, guards: guards}
}

// SetReader replaces the file reader. Used by tests.
func (e *Engine) SetReader(r FileReader) {
	e.reader = r
}

// Apply validates the operation set, applies each operation as a single
// first-occurrence replacement against the then-current file content, and
// returns the concatenated unified diff. Operations are processed in input
// order grouped by first appearance of each file, so output is deterministic
// for a given set. Returns ErrNoEffectiveChange when nothing changed.
func (e *Engine) Apply(set *OperationSet) (*Patch, error) {
	if err := e.guards.Validate(set); err != nil {
		return nil, err
	}

	byFile := make(map[string][]Operation)
	for _, op := range set.Ops {
		byFile[op.File] = append(byFile[op.File], op)
	}

	var diffs []string
	changed := 0
	for _, file := range set.Files() {
		original, err := e.reader.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}

		current := original
		for _, op := range byFile[file] {
			if !strings.Contains(current, op.Find) {
				return nil, newValidationError(fmt.Sprintf("find text not found in %s: %.80q", file, op.Find))
			}
			current = strings.Replace(current, op.Find, op.Replace, 1)
		}

		if current == original {
			slog.Warn("operations produced no change", "file", file)
			continue
		}

		ud := difflib.UnifiedDiff{
			A:        difflib.SplitLines(original),
			B:        difflib.SplitLines(current),
			FromFile: "a/" + file,
			ToFile:   "b/" + file,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(ud)
		if err != nil {
			return nil, fmt.Errorf("building diff for %s: %w", file, err)
		}
		diffs = append(diffs, text)
		changed++
	}

	if changed == 0 {
		return nil, ErrNoEffectiveChange
	}

	full := strings.Join(diffs, "")
	if !strings.HasSuffix(full, "\n") {
		full += "\n"
	}

	p := &Patch{UnifiedDiff: full, FilesChanged: changed}
	if err := p.computeStats(); err != nil {
		return nil, fmt.Errorf("computing diff stats: %w", err)
	}
	return p, nil
}

// computeStats parses the generated diff back and counts added and removed
// lines. Parsing our own output also guards against emitting a malformed diff.
func (p *Patch) computeStats() error {
	fds, err := diff.NewMultiFileDiffReader(strings.NewReader(p.UnifiedDiff)).ReadAllFiles()
	if err != nil {
		return err
	}
	for _, fd := range fds {
		stat := fd.Stat()
		p.LinesAdded += int(stat.Added + stat.Changed)
		p.LinesRemoved += int(stat.Deleted + stat.Changed)
	}
	return nil
}
