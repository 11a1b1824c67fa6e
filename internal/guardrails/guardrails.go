package guardrails

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/math-agent/backend/pkg/logger"
)

var (
	mathKeywords = []string{
		"solve", "equation", "formula", "derivative", "integral", "limit",
		"function", "graph", "calculate", "find", "prove", "theorem",
		"algebra", "geometry", "calculus", "trigonometry", "statistics",
		"probability", "matrix", "vector", "polynomial", "logarithm",
		"exponential", "differential", "sum", "product", "factor",
		"simplify", "evaluate",
	}

	blockedContent = []string{
		"hack", "exploit", "bypass", "malware", "virus",
		"password", "credit card", "social security", "bank account",
	}

	mathPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d`),
		regexp.MustCompile(`[+\-*/=<>^]`),
		regexp.MustCompile(`\\[a-zA-Z]+\{`),
		regexp.MustCompile(`(?i)\b(sin|cos|tan|log|ln|sqrt|pi)\b`),
	}

	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	}

	templateArtifact = regexp.MustCompile(`\{\{[^}]*\}\}`)
	internalIDLeak   = regexp.MustCompile(`\bkb:[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	horizontalRun    = regexp.MustCompile(`[ \t]+`)
	blankLineRun     = regexp.MustCompile(`\n{3,}`)
	disallowedChars  = regexp.MustCompile(`[^\w\s+\-*/=<>(){}\[\]^_.,?!:;'"\\²³√±πθ∫∑Δ°]`)
)

const RefusalText = "I can only help with mathematics questions, and this response could not be " +
	"presented safely. Please rephrase your question."

type InputResult struct {
	Accepted  bool
	Reason    string
	Sanitized string
}

type OutputResult struct {
	Accepted  bool
	Reason    string
	Sanitized string
	Redacted  bool
}

type Manager struct {
	maxInputLength  int
	maxOutputLength int
}

func NewManager(maxInputLength, maxOutputLength int) *Manager {
	if maxInputLength == 0 {
		maxInputLength = 1000
	}
	if maxOutputLength == 0 {
		maxOutputLength = 8000
	}
	return &Manager{
		maxInputLength:  maxInputLength,
		maxOutputLength: maxOutputLength,
	}
}

func (m *Manager) CheckInput(text string) InputResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return InputResult{Accepted: false, Reason: "empty query"}
	}

	if len(text) > m.maxInputLength {
		return InputResult{
			Accepted: false,
			Reason:   fmt.Sprintf("query exceeds maximum length of %d characters", m.maxInputLength),
		}
	}

	lower := strings.ToLower(trimmed)
	for _, blocked := range blockedContent {
		if strings.Contains(lower, blocked) {
			logger.Warn("Blocked content in query", zap.String("term", blocked))
			return InputResult{Accepted: false, Reason: "query contains restricted content"}
		}
	}

	if !hasMathIndicator(lower) {
		return InputResult{
			Accepted: false,
			Reason:   "please ask a mathematics-related question",
		}
	}

	return InputResult{Accepted: true, Sanitized: sanitize(trimmed)}
}

func (m *Manager) CheckOutput(text string) OutputResult {
	original := strings.TrimSpace(text)
	redacted := false

	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(text) {
			text = pattern.ReplaceAllString(text, "[REDACTED]")
			redacted = true
		}
	}

	if templateArtifact.MatchString(text) {
		text = templateArtifact.ReplaceAllString(text, "")
		redacted = true
	}

	if internalIDLeak.MatchString(text) {
		text = internalIDLeak.ReplaceAllString(text, "[internal reference]")
		redacted = true
	}

	text = normalizeOutput(text)

	// Substitute the refusal when redaction removed most of the answer.
	// Length truncation happens after this check: a long valid answer
	// keeps its prefix and is never mistaken for a gutted one.
	if redacted && (text == "" || len(text)*2 < len(original)) {
		logger.Warn("Output redaction removed too much content, substituting refusal")
		return OutputResult{
			Accepted:  false,
			Reason:    "redaction destroyed answer content",
			Sanitized: truncateUTF8(RefusalText, m.maxOutputLength),
			Redacted:  true,
		}
	}

	if text == "" {
		return OutputResult{
			Accepted:  false,
			Reason:    "empty response",
			Sanitized: truncateUTF8(RefusalText, m.maxOutputLength),
		}
	}

	if len(text) > m.maxOutputLength {
		text = strings.TrimSpace(truncateUTF8(text, m.maxOutputLength))
	}

	return OutputResult{Accepted: true, Sanitized: text, Redacted: redacted}
}

func hasMathIndicator(lower string) bool {
	for _, keyword := range mathKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	for _, pattern := range mathPatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}

func sanitize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = disallowedChars.ReplaceAllString(text, "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// normalizeOutput collapses runs of spaces and tabs but keeps line breaks,
// so step lists and source lists survive sanitization.
func normalizeOutput(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// truncateUTF8 cuts text to at most max bytes without splitting a rune.
func truncateUTF8(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
