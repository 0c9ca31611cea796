package masking

import (
	"log/slog"
)

// RedactionNotice replaces tool-result content when masking itself fails.
// Fail-closed: a result that could not be safely scrubbed is never surfaced.
const RedactionNotice = "[REDACTED: data masking failure — tool result could not be safely processed]"

// Service scrubs secret material from free-text surfaces: tool results
// handed to the LLM, notification text, and report evidence.
// Created once at startup. Thread-safe and stateless aside from the
// compiled patterns.
type Service struct {
	patterns    []*CompiledPattern
	codeMaskers []Masker
	logger      *slog.Logger
}

// NewService creates a masking service with compiled built-in patterns,
// optional extra patterns from configuration, and the registered
// code-based maskers.
func NewService(extra []Pattern) *Service {
	all := builtinPatterns()
	all = append(all, extra...)

	s := &Service{
		patterns:    compilePatterns(all),
		codeMaskers: []Masker{&KubernetesSecretMasker{}},
		logger:      slog.Default().With("component", "masking"),
	}

	s.logger.Info("Masking service initialized",
		"patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))

	return s
}

// MaskToolResult scrubs tool result content before it reaches the LLM or
// the audit trail. Fail-closed: if a masker fails the content is replaced
// by a redaction notice rather than passed through.
func (s *Service) MaskToolResult(content string) (masked string) {
	if s == nil || content == "" {
		return content
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Masking failed, redacting content (fail-closed)", "panic", r)
			masked = RedactionNotice
		}
	}()

	return s.apply(content)
}

// MaskText scrubs free text destined for notifications, reports, or logs.
// Fail-open: on masker failure the original text is returned — losing an
// alert is worse than an unscrubbed notification line.
func (s *Service) MaskText(text string) (masked string) {
	if s == nil || text == "" {
		return text
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Text masking failed, continuing unmasked (fail-open)", "panic", r)
			masked = text
		}
	}()

	return s.apply(text)
}

// apply runs code-based maskers first (structural awareness), then the
// regex sweep.
func (s *Service) apply(content string) string {
	masked := content
	for _, m := range s.codeMaskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}
