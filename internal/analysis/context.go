package analysis

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxContextSize caps a context pack at roughly 6KB of source text.
const DefaultMaxContextSize = 6000

// ContextPack is the per-failure material handed to the agents: the failing
// test function's source plus exact lines usable as find text.
type ContextPack struct {
	Failure        Failure  `json:"failure"`
	Excerpt        string   `json:"excerpt"`
	FindCandidates []string `json:"find_candidates,omitempty"`
	Size           int      `json:"size"`
}

// SourceReader reads repository files for context extraction.
type SourceReader interface {
	ReadFile(path string) (string, error)
}

type osSourceReader struct {
	root string
}

func (r osSourceReader) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.root, path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ContextBuilder extracts context packs from failing test files. Only files
// matching the allowed path prefixes are read; anything else yields a pack
// with no excerpt.
type ContextBuilder struct {
	reader       SourceReader
	allowedPaths []string
	maxSize      int
}

// NewContextBuilder returns a builder reading files under root, restricted to
// allowedPaths (same prefix/exact semantics as the patch guardrails).
func NewContextBuilder(root string, allowedPaths []string) *ContextBuilder {
	return &ContextBuilder{
		reader:       osSourceReader{root: root},
		allowedPaths: allowedPaths,
		maxSize:      DefaultMaxContextSize,
	}
}

// SetReader replaces the source reader. Used by tests.
func (b *ContextBuilder) SetReader(r SourceReader) {
	b.reader = r
}

func (b *ContextBuilder) pathAllowed(file string) bool {
	for _, p := range b.allowedPaths {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(file, p) {
				return true
			}
		} else if file == p {
			return true
		}
	}
	return false
}

// Build produces one context pack per failure.
func (b *ContextBuilder) Build(failures []Failure) []ContextPack {
	packs := make([]ContextPack, 0, len(failures))
	for _, f := range failures {
		packs = append(packs, b.buildOne(f))
	}
	return packs
}

func (b *ContextBuilder) buildOne(f Failure) ContextPack {
	pack := ContextPack{Failure: f}

	if f.TestFile == "" || !b.pathAllowed(f.TestFile) {
		slog.Warn("skipping context extraction for disallowed file", "file", f.TestFile)
		return pack
	}

	content, err := b.reader.ReadFile(f.TestFile)
	if err != nil {
		slog.Warn("could not read test file", "file", f.TestFile, "error", err)
		return pack
	}

	excerpt := extractFunction(content, f.TestFunction)
	if excerpt == "" {
		excerpt = content
	}
	if len(excerpt) > b.maxSize {
		excerpt = excerpt[:b.maxSize]
	}
	pack.Excerpt = excerpt
	pack.FindCandidates = findCandidates(excerpt)
	pack.Size = len(pack.Excerpt)
	return pack
}

// extractFunction returns the source of the named function: from its def/func
// line to the next top-level definition. Works for Python def and Go func.
func extractFunction(content, name string) string {
	if name == "" {
		return ""
	}
	// Parameterized test IDs like test_x[case1] map back to test_x.
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	// Subtests like TestX/case map back to TestX.
	if i := strings.IndexByte(name, '/'); i > 0 {
		name = name[:i]
	}

	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, fmt.Sprintf("def %s(", name)) ||
			strings.HasPrefix(trimmed, fmt.Sprintf("func %s(", name)) {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(lines[i], " ") && !strings.HasPrefix(lines[i], "\t") &&
			(strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "func ") ||
				strings.HasPrefix(trimmed, "class ") || strings.HasPrefix(trimmed, "@")) {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n")
}

// findCandidates returns exact source lines likely to be useful find text:
// assertion lines, kept verbatim so they match as substrings.
func findCandidates(excerpt string) []string {
	var candidates []string
	for _, line := range strings.Split(excerpt, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "assert") || strings.Contains(trimmed, "t.Error") || strings.Contains(trimmed, "t.Fatal") {
			candidates = append(candidates, line)
		}
	}
	return candidates
}
