// Package sanitize defines the content-validation contract consumed before
// a message is admitted. The gateway treats it as a black box and fails
// closed: an unsafe verdict or an internal sanitizer failure both reject
// the message.
package sanitize

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

// Result is the sanitizer verdict for one message.
type Result struct {
	Sanitized  string   `json:"sanitized"`
	IsSafe     bool     `json:"isSafe"`
	Violations []string `json:"violations,omitempty"`
}

type Sanitizer interface {
	Sanitize(ctx context.Context, text string) (Result, error)
}

var blockedPatterns = map[string]*regexp.Regexp{
	"script_tag":    regexp.MustCompile(`(?i)<\s*script\b`),
	"event_handler": regexp.MustCompile(`(?i)\bon(load|error|click|mouseover)\s*=`),
	"data_url":      regexp.MustCompile(`(?i)data:text/html`),
}

// RuleSanitizer is the default in-process implementation: strips control
// characters, caps length, and scans a small blocked-pattern list.
type RuleSanitizer struct {
	maxLength int
}

func NewRuleSanitizer(maxLength int) *RuleSanitizer {
	if maxLength <= 0 {
		maxLength = 8000
	}
	return &RuleSanitizer{maxLength: maxLength}
}

func (s *RuleSanitizer) Sanitize(_ context.Context, text string) (Result, error) {
	var violations []string

	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	if cleaned != text {
		violations = append(violations, "control_characters")
	}
	cleaned = strings.TrimSpace(cleaned)

	safe := true
	if cleaned == "" {
		violations = append(violations, "empty_message")
		safe = false
	}
	if len(cleaned) > s.maxLength {
		violations = append(violations, "too_long")
		safe = false
	}
	for name, pattern := range blockedPatterns {
		if pattern.MatchString(cleaned) {
			violations = append(violations, "blocked_pattern:"+name)
			safe = false
		}
	}

	return Result{
		Sanitized:  cleaned,
		IsSafe:     safe,
		Violations: violations,
	}, nil
}

var _ Sanitizer = (*RuleSanitizer)(nil)
