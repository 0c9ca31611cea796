// Package notify delivers best-effort alerts to Slack and Teams-style
// webhooks. Delivery failures are logged, never returned: a notification
// must not fail a cycle or a query.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/masking"
)

// suppressWindow is how long identical alerts stay silenced after one goes
// out.
const suppressWindow = 15 * time.Minute

// Alert is one notification. Kind distinguishes alert classes for
// suppression (CrashLoopBackOff, safety-block, ...).
type Alert struct {
	Severity  string // info, warning, critical
	Cluster   string
	Component string
	Kind      string
	Summary   string
	TicketURL string
	ReportURL string
}

func (a Alert) fingerprint() string {
	return strings.ToLower(a.Severity) + "|" + a.Component + "|" + a.Kind
}

// sink is one delivery target.
type sink interface {
	Deliver(ctx context.Context, a Alert, suppressed int) error
	Name() string
}

// ServiceConfig holds the delivery targets. Empty fields disable the
// corresponding sink.
type ServiceConfig struct {
	SlackToken   string
	SlackChannel string
	WebhookURL   string
	// Masker scrubs alert text before it leaves the process.
	Masker *masking.Service
}

// Service fans alerts out to the configured sinks with per-fingerprint
// suppression. Nil-safe: all methods are no-ops when the service is nil.
type Service struct {
	sinks  []sink
	mask   *masking.Service
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]*suppressState
}

type suppressState struct {
	lastSent   time.Time
	suppressed int
}

// NewService builds the service. Returns nil when no sink is configured, so
// an unconfigured deployment pays nothing.
func NewService(cfg ServiceConfig) *Service {
	var sinks []sink
	if cfg.SlackToken != "" && cfg.SlackChannel != "" {
		sinks = append(sinks, newSlackSink(cfg.SlackToken, cfg.SlackChannel))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, newWebhookSink(cfg.WebhookURL))
	}
	if len(sinks) == 0 {
		return nil
	}
	return newServiceWithSinks(cfg.Masker, sinks...)
}

func newServiceWithSinks(mask *masking.Service, sinks ...sink) *Service {
	return &Service{
		sinks:  sinks,
		mask:   mask,
		logger: slog.Default().With("component", "notify"),
		seen:   map[string]*suppressState{},
	}
}

// Notify delivers the alert unless an identical (severity, component, kind)
// went out within the suppression window. A suppressed-count rider travels
// with the next alert that does go out.
func (s *Service) Notify(ctx context.Context, a Alert) {
	if s == nil {
		return
	}

	suppressed, ok := s.admit(a)
	if !ok {
		s.logger.Debug("Notification suppressed",
			"severity", a.Severity, "component", a.Component, "kind", a.Kind)
		return
	}

	// Scrub after admission so masking never perturbs the suppression key.
	a.Summary = s.mask.MaskText(a.Summary)
	a.Kind = s.mask.MaskText(a.Kind)

	for _, snk := range s.sinks {
		if err := snk.Deliver(ctx, a, suppressed); err != nil {
			s.logger.Error("Notification delivery failed",
				"sink", snk.Name(), "component", a.Component, "error", err)
		}
	}
}

// PostNotification is the tool-catalog surface: the model addresses
// operators through the same suppression and sinks as the orchestrator.
func (s *Service) PostNotification(ctx context.Context, severity, component, title, body string) error {
	if s == nil {
		return fmt.Errorf("notifications are not configured")
	}
	s.Notify(ctx, Alert{
		Severity:  severity,
		Component: component,
		Kind:      title,
		Summary:   body,
	})
	return nil
}

// admit decides whether the alert goes out and returns the count of
// suppressed duplicates to report with it.
func (s *Service) admit(a Alert) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := a.fingerprint()
	now := time.Now()
	st, ok := s.seen[key]
	if ok && now.Sub(st.lastSent) < suppressWindow {
		st.suppressed++
		return 0, false
	}

	suppressed := 0
	if ok {
		suppressed = st.suppressed
	}
	s.seen[key] = &suppressState{lastSent: now}
	return suppressed, true
}
