package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_SimpleVars(t *testing.T) {
	tmpl := "Fixing {{file}} after {{attempts}} attempts."
	result, err := Render(tmpl, Vars{"file": "tests/test_x.py", "attempts": "2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "Fixing tests/test_x.py after 2 attempts."
	if result != expected {
		t.Errorf("expected %q, got %q", expected, result)
	}
}

func TestRender_MissingVar(t *testing.T) {
	_, err := Render("Plan: {{plan}}, failure: {{failure}}", Vars{"plan": "fix it"})
	if err == nil {
		t.Fatal("expected error for missing variable")
	}
	if !strings.Contains(err.Error(), "failure") {
		t.Errorf("error should mention missing variable, got: %v", err)
	}
}

func TestRender_MultipleMissing(t *testing.T) {
	_, err := Render("{{a}} and {{b}} and {{c}}", Vars{})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should mention %q, got: %v", name, err)
		}
	}
}

func TestRender_ConditionalBlock_Present(t *testing.T) {
	tmpl := "Start.{{#if feedback}}\nFeedback: {{feedback}}\n{{/if}}End."
	result, err := Render(tmpl, Vars{"feedback": "find text not found"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "Feedback: find text not found") {
		t.Errorf("expected conditional block included, got: %q", result)
	}
}

func TestRender_ConditionalBlock_Absent(t *testing.T) {
	tmpl := "Start.{{#if feedback}}\nFeedback: {{feedback}}\n{{/if}}End."
	result, err := Render(tmpl, Vars{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Start.End." {
		t.Errorf("expected 'Start.End.', got: %q", result)
	}
}

func TestRender_ConditionalBlock_EmptyString(t *testing.T) {
	result, err := Render("{{#if feedback}}has feedback{{/if}}", Vars{"feedback": ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string for empty var, got: %q", result)
	}
}

func TestRender_NestedConditionals(t *testing.T) {
	tmpl := "{{#if a}}outer {{#if b}}inner{{/if}} end{{/if}}"
	result, err := Render(tmpl, Vars{"a": "yes", "b": "yes"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "outer inner end" {
		t.Errorf("expected %q, got %q", "outer inner end", result)
	}

	result, err = Render("START"+tmpl+"FINISH", Vars{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "STARTFINISH" {
		t.Errorf("expected %q, got %q", "STARTFINISH", result)
	}
}

func TestRender_UnclosedConditional(t *testing.T) {
	_, err := Render("START{{#if x}}content with {{y}}MORE", Vars{"x": "yes", "y": "val"})
	if err == nil {
		t.Fatal("expected error for unclosed conditional block")
	}
	if !strings.Contains(err.Error(), "unclosed") {
		t.Errorf("expected unclosed error, got: %v", err)
	}
}

func TestRender_VarValueNotReExpanded(t *testing.T) {
	result, err := Render("Hello {{name}}", Vars{"name": "{{evil}}"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "Hello {{evil}}" {
		t.Errorf("expected literal insertion, got %q", result)
	}
}

func TestRender_PatcherSystemTemplate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	result, err := PatcherSystem(Vars{
		"max_operations":  "5",
		"allowed_paths":   "tests/, test/",
		"max_total_lines": "200",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "At most 5 operations") {
		t.Errorf("expected operation limit in output, got:\n%s", result)
	}
	if !strings.Contains(result, "tests/, test/") {
		t.Errorf("expected allowed paths in output")
	}
}

func TestRender_PatcherUserTemplate_Feedback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	base := Vars{
		"plan":            "change the expected value",
		"failure":         "tests/test_x.py::test_add - assert 2 == 3",
		"excerpt":         "def test_add():\n    assert add(1, 1) == 3",
		"find_candidates": "    assert add(1, 1) == 3",
	}

	first, err := PatcherUser(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(first, "previous attempt") {
		t.Error("first attempt should not carry feedback")
	}

	base["feedback"] = "operation 1: find text not found in tests/test_x.py"
	second, err := PatcherUser(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(second, "find text not found") {
		t.Errorf("expected feedback in output, got:\n%s", second)
	}
}

func TestRender_PlannerUserTemplate(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	result, err := PlannerUser(Vars{"failures": "FAILED tests/test_x.py::test_add"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, "FAILED tests/test_x.py::test_add") {
		t.Errorf("expected failure output included, got:\n%s", result)
	}
}

func TestLoadTemplate_ProjectOverride(t *testing.T) {
	workdir := t.TempDir()
	tmplDir := filepath.Join(workdir, "templates")
	if err := os.MkdirAll(tmplDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmplDir, "custom.md"), []byte("custom template"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	result, err := LoadTemplate("templates/custom.md", workdir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "custom template" {
		t.Errorf("expected 'custom template', got %q", result)
	}
}

func TestLoadTemplate_PathTraversal(t *testing.T) {
	tmpDir := t.TempDir()
	workdir := filepath.Join(tmpDir, "workdir")
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "secret.txt"), []byte("SECRET"), 0o644); err != nil {
		t.Fatal(err)
	}

	if content, err := LoadTemplate("../secret.txt", workdir); err == nil {
		t.Errorf("path traversal read a file outside workdir: %q", content)
	}
}

func TestInstallBuiltinTemplates(t *testing.T) {
	tmpDir := t.TempDir()
	origHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	defer os.Setenv("HOME", origHome)

	if err := InstallBuiltinTemplates(); err != nil {
		t.Fatalf("install error: %v", err)
	}
	for name := range builtinTemplates {
		path := filepath.Join(tmpDir, ".patchfactory", "templates", name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			t.Errorf("template %q not installed", name)
		}
	}
	// Running again should not overwrite.
	if err := InstallBuiltinTemplates(); err != nil {
		t.Fatalf("second install error: %v", err)
	}
}

func TestTemplateOverrideWinsOverBuiltin(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	dir := filepath.Join(tmpDir, ".patchfactory", "templates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	custom := "You are a tuned planner.\n"
	if err := os.WriteFile(filepath.Join(dir, "planner-system.md"), []byte(custom), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := PlannerSystem(); got != custom {
		t.Errorf("expected the on-disk template, got:\n%s", got)
	}
}

func TestTemplateFallsBackToEmbedded(t *testing.T) {
	// Empty home: no installed templates on disk.
	t.Setenv("HOME", t.TempDir())

	if got := PlannerSystem(); !strings.Contains(got, "test repair planner") {
		t.Errorf("expected the embedded template, got:\n%s", got)
	}
}

func TestBuiltinTemplateNames(t *testing.T) {
	expected := []string{"planner-system.md", "planner-user.md", "patcher-system.md", "patcher-user.md"}
	for _, name := range expected {
		if _, ok := builtinTemplates[name]; !ok {
			t.Errorf("missing built-in template: %q", name)
		}
	}
}
