package analysis

import (
	"regexp"
	"strings"
)

// PytestParser reads pytest's verbose output: FAILED headers plus the "E "
// traceback lines that follow.
type PytestParser struct{}

// classification patterns checked in order, first match wins.
var pytestPatterns = []struct {
	failureType string
	re          *regexp.Regexp
}{
	{FailAssertMismatch, regexp.MustCompile(`AssertionError|assert .+ (==|!=|is|in|<|>) .+`)},
	{FailImportError, regexp.MustCompile(`ImportError|ModuleNotFoundError|No module named|cannot import name`)},
	{FailFixtureMissing, regexp.MustCompile(`fixture .+ not found|fixture.*undefined`)},
	{FailSyntaxError, regexp.MustCompile(`SyntaxError|IndentationError`)},
	{FailTypeError, regexp.MustCompile(`TypeError|unsupported operand type`)},
	{FailNameError, regexp.MustCompile(`NameError|name .+ is not defined`)},
	{FailAttributeError, regexp.MustCompile(`AttributeError|'.*' object has no attribute`)},
	{FailTimeout, regexp.MustCompile(`(?i)TimeoutError|timeout`)},
}

func classifyPytestLine(line string) string {
	for _, p := range pytestPatterns {
		if p.re.MatchString(line) {
			return p.failureType
		}
	}
	return ""
}

// Parse scans pytest output for FAILED test headers and classifies each
// failure from the error lines that follow it.
func (PytestParser) Parse(output string) []Failure {
	var failures []Failure
	var current *Failure

	flush := func() {
		if current != nil {
			if current.FailureType == "" {
				current.FailureType = FailOther
			}
			failures = append(failures, *current)
			current = nil
		}
	}

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "FAILED ") && strings.Contains(line, "::") {
			flush()
			parts := strings.SplitN(strings.SplitN(line, "FAILED ", 2)[1], "::", 2)
			if len(parts) < 2 {
				continue
			}
			fn := strings.TrimSpace(strings.SplitN(parts[1], " ", 2)[0])
			current = &Failure{
				TestFile:     strings.TrimSpace(parts[0]),
				TestFunction: fn,
			}
			// Short summary lines carry the error after " - ".
			if _, after, ok := strings.Cut(parts[1], " - "); ok {
				current.ErrorMessage = strings.TrimSpace(after)
				current.FailureType = classifyPytestLine(after)
			}
			continue
		}
		if current == nil {
			continue
		}
		if strings.Contains(line, "Error") || strings.Contains(line, "assert") || strings.HasPrefix(strings.TrimSpace(line), "E ") {
			if current.ErrorMessage == "" {
				current.ErrorMessage = strings.TrimSpace(line)
			}
			if current.FailureType == "" {
				current.FailureType = classifyPytestLine(line)
			}
			if strings.HasPrefix(strings.TrimSpace(line), ">") && current.FailingLine == "" {
				current.FailingLine = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
			}
		} else if strings.HasPrefix(strings.TrimSpace(line), ">") && current.FailingLine == "" {
			current.FailingLine = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		}
	}
	flush()
	return failures
}
