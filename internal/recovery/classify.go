package recovery

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category groups faults by where they originate, which selects the recovery
// action.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryModel         Category = "model"
	CategoryValidation    Category = "validation"
	CategoryParsing       Category = "parsing"
	CategoryConfiguration Category = "configuration"
	CategoryWorkflow      Category = "workflow"
	CategoryResource      Category = "resource"
	CategoryUnknown       Category = "unknown"
)

// Severity indicates how serious a fault is for reporting purposes.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classifier maps an error to a category and severity.
type Classifier interface {
	Classify(err error) (Category, Severity)
}

// KeywordClassifier matches substrings of the error message, checking
// categories in a fixed order so an error matching several lists gets the
// first one. "deadline" is in the network list so context deadline expiry is
// treated as a transient network fault.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(err error) (Category, Severity) {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection", "timeout", "deadline", "network", "unreachable", "dns"):
		return CategoryNetwork, SeverityHigh
	case containsAny(msg, "model", "llm", "api", "openai", "anthropic", "groq", "ollama"):
		return CategoryModel, SeverityHigh
	case containsAny(msg, "validation", "invalid", "format", "schema"):
		return CategoryValidation, SeverityMedium
	case isEncodingError(err) || containsAny(msg, "json", "parse", "decode", "syntax"):
		return CategoryParsing, SeverityMedium
	case containsAny(msg, "config", "environment", "missing", "not found"):
		return CategoryConfiguration, SeverityHigh
	case containsAny(msg, "memory", "disk", "resource", "limit", "quota"):
		return CategoryResource, SeverityHigh
	case containsAny(msg, "workflow", "pipeline"):
		return CategoryWorkflow, SeverityMedium
	}
	return CategoryUnknown, SeverityMedium
}

func containsAny(msg string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// isEncodingError catches typed JSON decode failures whose messages may not
// carry a recognizable keyword.
func isEncodingError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
