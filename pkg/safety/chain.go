package safety

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// notifier is the chain's notification stage. Satisfied by notify.Service.
type notifier interface {
	PostNotification(ctx context.Context, severity, component, title, body string) error
}

// Chain runs the per-call stages: validate, log, notify. Read-category
// calls pass straight through unaudited; write and destructive calls always
// leave an audit entry, whatever the decision.
type Chain struct {
	validator *Validator
	audit     *AuditLog
	notifier  notifier
	logger    *slog.Logger
}

// NewChain builds the chain. notifier may be nil.
func NewChain(validator *Validator, audit *AuditLog, n notifier) *Chain {
	return &Chain{
		validator: validator,
		audit:     audit,
		notifier:  n,
		logger:    slog.Default().With("component", "safety"),
	}
}

// Check adjudicates one tool call. The returned error is nil on allow; on
// deny it is a Validation tool error whose message starts with "BLOCKED:",
// which the driver hands back to the model as a tool result.
func (c *Chain) Check(ctx context.Context, req Request) error {
	decision := c.validator.Validate(ctx, req)

	if req.Category != tools.CategoryRead {
		verdict := "allow"
		if !decision.Allow {
			verdict = "deny"
		}
		c.audit.Record(Entry{
			ScopeID:  req.ScopeID,
			Tool:     req.Tool,
			ArgsHash: HashArgs(req.Args),
			Decision: verdict,
			Reason:   decision.Reason,
		})
		c.notifyStage(req, decision)
	}

	if !decision.Allow {
		c.logger.Warn("Tool call denied",
			"tool", req.Tool,
			"scope_id", req.ScopeID,
			"reason", decision.Reason)
		return tools.NewValidationError("BLOCKED: %s", decision.Reason)
	}
	return nil
}

// RecordOutcome appends a follow-up audit entry once an allowed
// write/destructive call has executed.
func (c *Chain) RecordOutcome(req Request, outcome string) {
	if req.Category == tools.CategoryRead {
		return
	}
	c.audit.Record(Entry{
		ScopeID:  req.ScopeID,
		Tool:     req.Tool,
		ArgsHash: HashArgs(req.Args),
		Decision: "allow",
		Outcome:  outcome,
	})
}

// notifyStage emits a one-line notification for destructive allows and all
// denies. Best-effort: a sink failure never blocks the call, so it runs on
// its own short-deadline context.
func (c *Chain) notifyStage(req Request, decision Decision) {
	if c.notifier == nil {
		return
	}
	destructiveAllow := decision.Allow && req.Category == tools.CategoryDestructive
	if decision.Allow && !destructiveAllow {
		return
	}

	severity := "warning"
	title := fmt.Sprintf("Destructive action approved: %s", req.Tool)
	if !decision.Allow {
		title = fmt.Sprintf("Action blocked: %s", req.Tool)
	}
	component := tools.StringArg(req.Args, "namespace")
	if component == "" {
		component = req.Cluster
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.notifier.PostNotification(ctx, severity, component, title, decision.Reason); err != nil {
			c.logger.Warn("Safety notification failed", "tool", req.Tool, "error", err)
		}
	}()
}
