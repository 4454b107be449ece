package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrorInfo is one classified fault, recorded in the system's history.
type ErrorInfo struct {
	Timestamp          time.Time      `json:"timestamp"`
	Category           Category       `json:"category"`
	Severity           Severity       `json:"severity"`
	Message            string         `json:"message"`
	Details            string         `json:"details,omitempty"`
	Context            map[string]any `json:"context,omitempty"`
	RecoveryAttempted  bool           `json:"recovery_attempted"`
	RecoverySuccessful bool           `json:"recovery_successful"`
	RetryCount         int            `json:"retry_count"`
	MaxRetries         int            `json:"max_retries"`
}

// Sleeper abstracts time.Sleep so tests can record backoff delays instead of
// waiting them out. Sleeps are not interruptible; cancellation is observed
// between attempts.
type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// System classifies faults, records them, and runs category-specific recovery
// actions between retries. Safe for concurrent use.
type System struct {
	mu         sync.Mutex
	classifier Classifier
	sleeper    Sleeper
	history    []*ErrorInfo
	maxRetries int
	retryDelay time.Duration
}

// NewSystem returns a recovery system with the given retry budget and base
// delay. Zero or negative values fall back to 3 retries and 1s.
func NewSystem(maxRetries int, retryDelay time.Duration) *System {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &System{
		classifier: KeywordClassifier{},
		sleeper:    realSleeper{},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// SetSleeper replaces the sleeper. Used by tests.
func (s *System) SetSleeper(sl Sleeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeper = sl
}

// SetClassifier replaces the classifier. Used by tests.
func (s *System) SetClassifier(c Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = c
}

// record classifies err, appends it to the history, and returns the entry.
func (s *System) record(err error, opCtx map[string]any, retryCount int) *ErrorInfo {
	cat, sev := s.classifier.Classify(err)
	info := &ErrorInfo{
		Timestamp:  time.Now(),
		Category:   cat,
		Severity:   sev,
		Message:    err.Error(),
		Details:    fmt.Sprintf("%T: %+v", err, err),
		Context:    opCtx,
		RetryCount: retryCount,
		MaxRetries: s.maxRetries,
	}

	s.mu.Lock()
	s.history = append(s.history, info)
	s.mu.Unlock()

	slog.Error("classified error", "category", cat, "severity", sev, "message", err.Error())
	return info
}

// attemptRecovery runs the category action for info and reports whether the
// operation should be retried. Configuration faults and model context-length
// overflows are never recoverable.
func (s *System) attemptRecovery(info *ErrorInfo) bool {
	if info.RetryCount >= s.maxRetries {
		slog.Warn("max retries reached", "max_retries", s.maxRetries, "message", info.Message)
		return false
	}
	info.RecoveryAttempted = true
	info.RetryCount++

	slog.Info("attempting recovery", "category", info.Category, "attempt", info.RetryCount)

	ok := s.recover(info)
	info.RecoverySuccessful = ok
	return ok
}

func (s *System) recover(info *ErrorInfo) bool {
	switch info.Category {
	case CategoryNetwork:
		s.sleeper.Sleep(s.retryDelay * 2)
		if info.RetryCount > 1 {
			backoff := s.retryDelay * (1 << (info.RetryCount - 1))
			slog.Info("network retry with backoff", "delay", backoff)
			s.sleeper.Sleep(backoff)
		}
		return true
	case CategoryModel:
		msg := strings.ToLower(info.Message)
		if strings.Contains(msg, "rate") || strings.Contains(msg, "limit") {
			wait := s.retryDelay * (1 << info.RetryCount)
			if wait > 30*time.Second {
				wait = 30 * time.Second
			}
			slog.Info("rate limit detected", "wait", wait)
			s.sleeper.Sleep(wait)
			return true
		}
		if strings.Contains(msg, "context") || strings.Contains(msg, "length") {
			slog.Info("context length overflow, input must be truncated")
			return false
		}
		s.sleeper.Sleep(s.retryDelay)
		return true
	case CategoryValidation, CategoryParsing:
		// Self-correcting: the agent retry loop handles these without waiting.
		return true
	case CategoryConfiguration:
		// Needs user intervention.
		return false
	case CategoryWorkflow:
		s.sleeper.Sleep(s.retryDelay)
		return true
	case CategoryResource:
		s.sleeper.Sleep(s.retryDelay * 3)
		return true
	default:
		s.sleeper.Sleep(s.retryDelay)
		return true
	}
}

// Do runs op with automatic recovery: up to maxRetries+1 attempts, classifying
// each fault and running its recovery action between attempts. A maxRetries of
// zero or less uses the system default. The last error is returned unwrapped so
// callers can still inspect it with errors.Is/As. Context cancellation is
// checked before every attempt.
func Do[T any](ctx context.Context, s *System, opCtx map[string]any, maxRetries int, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if maxRetries <= 0 {
		maxRetries = s.maxRetries
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		info := s.record(err, opCtx, attempt)
		if attempt == maxRetries {
			slog.Error("operation failed after all attempts", "attempts", maxRetries+1, "error", err)
			return zero, err
		}
		if !s.attemptRecovery(info) {
			slog.Error("recovery not possible", "category", info.Category, "error", err)
			return zero, err
		}
		slog.Info("retrying operation", "attempt", attempt+2, "max_attempts", maxRetries+1)
	}
	return zero, fmt.Errorf("retry loop exited without a result")
}

// Summary is an aggregate view of the recorded error history.
type Summary struct {
	TotalErrors          int              `json:"total_errors"`
	ByCategory           map[Category]int `json:"by_category"`
	BySeverity           map[Severity]int `json:"by_severity"`
	RecoveryRate         float64          `json:"recovery_rate"`
	RecoveryAttempts     int              `json:"recovery_attempts"`
	SuccessfulRecoveries int              `json:"successful_recoveries"`
	RecentErrors         []ErrorInfo      `json:"recent_errors"`
}

// Summary returns counts by category and severity, the recovery success rate,
// and copies of the most recent 10 errors.
func (s *System) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		TotalErrors: len(s.history),
		ByCategory:  make(map[Category]int),
		BySeverity:  make(map[Severity]int),
	}
	for _, e := range s.history {
		sum.ByCategory[e.Category]++
		sum.BySeverity[e.Severity]++
		if e.RecoveryAttempted {
			sum.RecoveryAttempts++
		}
		if e.RecoverySuccessful {
			sum.SuccessfulRecoveries++
		}
	}
	if sum.RecoveryAttempts > 0 {
		sum.RecoveryRate = float64(sum.SuccessfulRecoveries) / float64(sum.RecoveryAttempts)
	}

	start := len(s.history) - 10
	if start < 0 {
		start = 0
	}
	for _, e := range s.history[start:] {
		sum.RecentErrors = append(sum.RecentErrors, *e)
	}
	return sum
}

// ClearHistory discards the recorded error history.
func (s *System) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	slog.Info("error history cleared")
}
