package patch

import (
	"strings"
	"testing"
)

func TestParseOperationsBareJSON(t *testing.T) {
	raw := `{"ops": [{"file": "tests/test_x.py", "find": "assert 1 == 2", "replace": "assert 1 == 1"}]}`
	out, err := ParseOperations(raw)
	if err != nil {
		t.Fatalf("ParseOperations: %v", err)
	}
	if out.Aborted() {
		t.Fatal("unexpected abort")
	}
	if len(out.Set.Ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(out.Set.Ops))
	}
	op := out.Set.Ops[0]
	if op.File != "tests/test_x.py" || op.Find != "assert 1 == 2" || op.Replace != "assert 1 == 1" {
		t.Errorf("unexpected op: %+v", op)
	}
}

func TestParseOperationsFencedJSON(t *testing.T) {
	raw := "Here is the fix:\n```json\n{\"ops\": [{\"file\": \"tests/test_x.py\", \"find\": \"a\", \"replace\": \"b\"}]}\n```\nDone."
	out, err := ParseOperations(raw)
	if err != nil {
		t.Fatalf("ParseOperations: %v", err)
	}
	if len(out.Set.Ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(out.Set.Ops))
	}
}

func TestParseOperationsAbort(t *testing.T) {
	out, err := ParseOperations(`{"abort": "exact_match_not_found"}`)
	if err != nil {
		t.Fatalf("ParseOperations: %v", err)
	}
	if !out.Aborted() {
		t.Fatal("expected abort outcome")
	}
	if out.Abort != AbortExactMatchMissing {
		t.Errorf("abort = %q, want %q", out.Abort, AbortExactMatchMissing)
	}
}

func TestParseOperationsGarbage(t *testing.T) {
	for _, raw := range []string{"", "I cannot help with that.", `{"plan": "irrelevant"}`} {
		if _, err := ParseOperations(raw); err == nil {
			t.Errorf("ParseOperations(%q): expected error", raw)
		}
	}
}

func TestEstimatedLines(t *testing.T) {
	tests := []struct {
		find, replace string
		want          int
	}{
		{"one line", "one line changed", 1},
		{"a\nb\nc", "x", 3},
		{"x", "a\nb", 2},
	}
	for _, tt := range tests {
		op := Operation{Find: tt.find, Replace: tt.replace}
		if got := op.EstimatedLines(); got != tt.want {
			t.Errorf("EstimatedLines(%q, %q) = %d, want %d", tt.find, tt.replace, got, tt.want)
		}
	}
}

func TestFilesFirstSeenOrder(t *testing.T) {
	set := &OperationSet{Ops: []Operation{
		{File: "tests/b.py", Find: "x", Replace: "y"},
		{File: "tests/a.py", Find: "x", Replace: "y"},
		{File: "tests/b.py", Find: "p", Replace: "q"},
	}}
	got := strings.Join(set.Files(), ",")
	if got != "tests/b.py,tests/a.py" {
		t.Errorf("Files() = %s, want tests/b.py,tests/a.py", got)
	}
}
