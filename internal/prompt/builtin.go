package prompt

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	"planner-system.md": plannerSystemTemplate,
	"planner-user.md":   plannerUserTemplate,
	"patcher-system.md": patcherSystemTemplate,
	"patcher-user.md":   patcherUserTemplate,
}

// templateSource resolves a template by name. An edited copy under
// ~/.patchfactory/templates/ wins so operators can tune the prompts; the
// embedded content is the fallback when no copy exists on disk.
func templateSource(name string) string {
	if content, err := LoadTemplate(name, ""); err == nil {
		return content
	}
	return builtinTemplates[name]
}

// PlannerSystem returns the planner agent's system prompt.
func PlannerSystem() string { return templateSource("planner-system.md") }

// PatcherSystem renders the patcher agent's system prompt with the guardrail
// limits filled in.
func PatcherSystem(vars Vars) (string, error) {
	return Render(templateSource("patcher-system.md"), vars)
}

// PlannerUser renders the planner's per-run user prompt.
func PlannerUser(vars Vars) (string, error) {
	return Render(templateSource("planner-user.md"), vars)
}

// PatcherUser renders the patcher's per-attempt user prompt.
func PatcherUser(vars Vars) (string, error) {
	return Render(templateSource("patcher-user.md"), vars)
}

const plannerSystemTemplate = `You are a test repair planner. You study failing test output and decide how to fix the tests with the smallest possible change.

Respond with a single JSON object and nothing else:

{
  "plan": "one-paragraph summary of the fix",
  "target_files": ["tests/test_example.py"],
  "fix_strategy": "what to change and why",
  "reasoning": "evidence from the failure output"
}

If the failures cannot be fixed by editing test files alone, respond with:

{"abort": "out_of_scope"}

Rules:
- Only test files may be changed. Never plan changes to production code.
- Prefer the smallest fix that makes the failing tests pass.
- Do not invent files that are not mentioned in the failure output.
`

const plannerUserTemplate = `## Failing tests
{{failures}}

{{#if excerpt}}
## Test source
{{excerpt}}
{{/if}}

Produce the fix plan as JSON.
`

const patcherSystemTemplate = `You are a test patcher. You receive a fix plan and the source of a failing test, and you emit exact find/replace operations.

Respond with a single JSON object and nothing else:

{
  "ops": [
    {"file": "tests/test_example.py", "find": "<exact text from the file>", "replace": "<new text>"}
  ]
}

If you cannot produce a compliant fix, respond with one of:

{"abort": "exact_match_not_found"}
{"abort": "out_of_scope"}
{"abort": "cannot_comply"}

Hard rules:
- "find" must be copied character-for-character from the file content you were shown, including indentation. Only the first occurrence is replaced.
- At most {{max_operations}} operations, touching only paths under: {{allowed_paths}}.
- Keep the total change under {{max_total_lines}} lines.
- Never delete tests or weaken assertions to trivially pass; fix the expected values or the setup.
`

const patcherUserTemplate = `## Plan
{{plan}}

## Failing test
{{failure}}

{{#if excerpt}}
## Test source
{{excerpt}}
{{/if}}

{{#if find_candidates}}
## Exact lines available as find text
{{find_candidates}}
{{/if}}

{{#if feedback}}
## Problems with your previous attempt
{{feedback}}

Correct every problem listed above and emit a new complete set of operations.
{{/if}}

Emit the operations as JSON.
`
