package analysis

import (
	"regexp"
	"strings"
)

// GoTestParser reads `go test` output: "--- FAIL: TestName" blocks with
// indented file:line detail lines.
type GoTestParser struct{}

var (
	goFailRe   = regexp.MustCompile(`^\s*--- FAIL: (\S+)`)
	goDetailRe = regexp.MustCompile(`^\s+(\S+\.go):\d+: (.*)`)
)

// Parse extracts one failure per "--- FAIL:" block. Subtests keep their full
// slash-separated name.
func (GoTestParser) Parse(output string) []Failure {
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
		if m := goFailRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Failure{TestFunction: m[1]}
			continue
		}
		if current == nil {
			continue
		}
		if m := goDetailRe.FindStringSubmatch(line); m != nil {
			if current.TestFile == "" {
				current.TestFile = m[1]
			}
			if current.ErrorMessage == "" {
				current.ErrorMessage = m[2]
				current.FailureType = classifyGoMessage(m[2])
			}
		}
	}
	flush()
	return failures
}

func classifyGoMessage(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "want") || strings.Contains(lower, "expected") || strings.Contains(lower, "got"):
		return FailAssertMismatch
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return FailTimeout
	default:
		return FailOther
	}
}
