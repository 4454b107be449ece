// Package analysis turns raw test-runner output into classified failures and
// compact context packs for the agents.
package analysis

// Failure types, used to steer context extraction and prompting.
const (
	FailAssertMismatch = "assert_mismatch"
	FailImportError    = "import_error"
	FailFixtureMissing = "fixture_missing"
	FailTypeError      = "type_error"
	FailNameError      = "name_error"
	FailAttributeError = "attribute_error"
	FailSyntaxError    = "syntax_error"
	FailTimeout        = "timeout"
	FailOther          = "other"
)

// Failure is one classified test failure extracted from runner output.
type Failure struct {
	TestFile     string `json:"test_file"`
	TestFunction string `json:"test_function"`
	FailureType  string `json:"failure_type"`
	ErrorMessage string `json:"error_message"`
	FailingLine  string `json:"failing_line,omitempty"`
}

// Parser extracts failures from one test tool's output format.
type Parser interface {
	Parse(output string) []Failure
}
