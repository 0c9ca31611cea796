package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/vigil/pkg/safety"
	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// DefaultMaxToolCalls bounds one advance when the budget does not say
// otherwise.
const DefaultMaxToolCalls = 25

// maxParallelReads bounds the read-only tool fan-out within one turn.
const maxParallelReads = 8

// Budget bounds one advance. Any exhausted dimension terminates the loop.
type Budget struct {
	// MaxToolCalls caps tool executions across the whole advance.
	MaxToolCalls int
	// MaxSessionTokens is the session's token ceiling; the pruner holds the
	// estimate under it before every provider call.
	MaxSessionTokens int
	// Deadline is the wall-clock bound (180s queries, 600s cycles).
	Deadline time.Duration
}

// Params configures one advance.
type Params struct {
	Model  string
	Tools  []tools.Descriptor
	Budget Budget
	// ScopeID names the cycle or session in audit entries; defaults to the
	// session id.
	ScopeID string
}

// Outcome is what one advance produced.
type Outcome struct {
	Text                string
	ToolsInvoked        []string
	ToolCalls           int
	TokensUsed          int
	TruncatedByDeadline bool
	// StopReason is one of completed, max_tool_calls, deadline, cancelled.
	StopReason string
}

// invoker is the tool dispatch surface. Satisfied by tools.Catalog.
type invoker interface {
	Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (*tools.Result, error)
	Get(name string) (tools.Descriptor, bool)
}

// checker is the safety adjudication surface. Satisfied by safety.Chain.
type checker interface {
	Check(ctx context.Context, req safety.Request) error
}

// Driver runs the reason-act loop over one session at a time. The session
// lock is held for the whole advance, so concurrent queries against a
// shared session serialize and eviction never sees a half-written turn.
type Driver struct {
	client  Client
	catalog invoker
	chain   checker
	cluster string
	logger  *slog.Logger

	// trackMu guards outcome bookkeeping during parallel fan-out.
	trackMu sync.Mutex
}

// NewDriver wires the loop. cluster is the target cluster stamped into
// safety requests.
func NewDriver(client Client, catalog invoker, chain checker, cluster string) *Driver {
	return &Driver{
		client:  client,
		catalog: catalog,
		chain:   chain,
		cluster: cluster,
		logger:  slog.Default().With("component", "driver"),
	}
}

// Advance appends the user input (when given) and loops provider calls and
// tool executions until the model concludes or the budget runs out. The
// session is always left consistent: every ToolCall has its ToolResult.
func (d *Driver) Advance(ctx context.Context, sess *session.Session, userInput string, p Params) (*Outcome, error) {
	if p.Budget.MaxToolCalls <= 0 {
		p.Budget.MaxToolCalls = DefaultMaxToolCalls
	}
	if p.ScopeID == "" {
		p.ScopeID = sess.ID
	}
	if p.Budget.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Budget.Deadline)
		defer cancel()
	}

	sess.Lock()
	defer sess.Unlock()

	if userInput != "" {
		sess.Append(session.UserText(userInput))
	}

	available := make(map[string]bool, len(p.Tools))
	for _, t := range p.Tools {
		available[t.Name] = true
	}

	outcome := &Outcome{StopReason: "completed"}
	for {
		sess.PruneIfNeeded(p.Budget.MaxSessionTokens)

		reply, err := d.complete(ctx, sess, p, p.Tools)
		if err != nil {
			if stop := stopReasonFor(ctx, err); stop != "" {
				outcome.TruncatedByDeadline = true
				outcome.StopReason = stop
				return outcome, nil
			}
			return nil, err
		}
		outcome.TokensUsed += reply.TokensUsed
		sess.AddTokens(reply.TokensUsed)

		if reply.Text != "" {
			sess.Append(session.AssistantText(reply.Text))
			outcome.Text = reply.Text
		}
		if len(reply.ToolCalls) == 0 {
			return outcome, nil
		}

		for _, call := range reply.ToolCalls {
			sess.Append(session.ToolCall(call.ID, call.Name, call.Args))
		}

		if outcome.ToolCalls+len(reply.ToolCalls) > p.Budget.MaxToolCalls {
			// Budget exhausted mid-turn: refuse the pending calls, then ask
			// the model to conclude from what it has, without tools.
			for _, call := range reply.ToolCalls {
				sess.Append(session.ToolResult(call.ID, false,
					"tool call budget exhausted; conclude from the information gathered so far",
					string(tools.KindCancelled)))
			}
			d.forceConclusion(ctx, sess, p, outcome)
			outcome.StopReason = "max_tool_calls"
			return outcome, nil
		}

		results, interrupted := d.executeCalls(ctx, p.ScopeID, reply.ToolCalls, available, outcome)
		sess.Append(results...)
		outcome.ToolCalls += len(reply.ToolCalls)

		if interrupted {
			outcome.TruncatedByDeadline = true
			outcome.StopReason = stopReasonFor(ctx, ctx.Err())
			return outcome, nil
		}
	}
}

func (d *Driver) complete(ctx context.Context, sess *session.Session, p Params, descs []tools.Descriptor) (*Reply, error) {
	msgs := sess.Messages()
	system := ""
	if len(msgs) > 0 && msgs[0].Kind == session.KindSystemPrompt {
		system = msgs[0].Text
		msgs = msgs[1:]
	}
	return d.client.Complete(ctx, Request{
		Model:    p.Model,
		System:   system,
		Messages: msgs,
		Tools:    descs,
	})
}

// forceConclusion makes one last provider call with no tools so the model
// summarizes what it found. Best-effort: a failure here keeps the partial
// outcome.
func (d *Driver) forceConclusion(ctx context.Context, sess *session.Session, p Params, outcome *Outcome) {
	reply, err := d.complete(ctx, sess, p, nil)
	if err != nil {
		d.logger.Warn("Forced conclusion failed", "scope_id", p.ScopeID, "error", err)
		return
	}
	outcome.TokensUsed += reply.TokensUsed
	if reply.Text != "" {
		sess.Append(session.AssistantText(reply.Text))
		outcome.Text = reply.Text
	}
}

// executeCalls runs one turn's tool calls and returns their results in
// provider order. All-read turns fan out concurrently (bounded); any write
// or destructive call forces serial execution in provider order. A context
// expiry yields synthetic results for the remaining calls so no ToolCall is
// left unanswered.
func (d *Driver) executeCalls(ctx context.Context, scopeID string, calls []ToolCallRequest, available map[string]bool, outcome *Outcome) ([]session.Message, bool) {
	results := make([]session.Message, len(calls))

	allReads := true
	for _, call := range calls {
		desc, ok := d.catalog.Get(call.Name)
		if !ok || !available[call.Name] || desc.Category != tools.CategoryRead {
			allReads = false
			break
		}
	}

	if allReads && len(calls) > 1 {
		var wg sync.WaitGroup
		sem := make(chan struct{}, maxParallelReads)
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call ToolCallRequest) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				results[i] = d.executeOne(ctx, scopeID, call, available, outcome)
			}(i, call)
		}
		wg.Wait()
		return results, ctx.Err() != nil
	}

	for i, call := range calls {
		if ctx.Err() != nil {
			kind := tools.KindTimeout
			if errors.Is(ctx.Err(), context.Canceled) {
				kind = tools.KindCancelled
			}
			results[i] = session.ToolResult(call.ID, false, "execution aborted: "+ctx.Err().Error(), string(kind))
			continue
		}
		results[i] = d.executeOne(ctx, scopeID, call, available, outcome)
	}
	return results, ctx.Err() != nil
}

func (d *Driver) executeOne(ctx context.Context, scopeID string, call ToolCallRequest, available map[string]bool, outcome *Outcome) session.Message {
	d.trackMu.Lock()
	outcome.ToolsInvoked = append(outcome.ToolsInvoked, call.Name)
	d.trackMu.Unlock()

	if !available[call.Name] {
		return session.ToolResult(call.ID, false,
			fmt.Sprintf("tool %s is not available in this context", call.Name),
			string(tools.KindValidation))
	}

	desc, ok := d.catalog.Get(call.Name)
	if !ok {
		return session.ToolResult(call.ID, false,
			fmt.Sprintf("unknown tool: %s", call.Name), string(tools.KindValidation))
	}

	args := map[string]any{}
	if len(call.Args) > 0 {
		_ = json.Unmarshal(call.Args, &args)
	}

	if err := d.chain.Check(ctx, safety.Request{
		ScopeID:  scopeID,
		Tool:     call.Name,
		Category: desc.Category,
		Cluster:  d.cluster,
		Args:     args,
	}); err != nil {
		te := tools.AsToolError(err)
		return session.ToolResult(call.ID, false, te.Message, string(te.Kind))
	}

	res, err := d.catalog.Invoke(ctx, call.Name, call.Args)
	if err != nil {
		te := tools.AsToolError(err)
		return session.ToolResult(call.ID, false, te.Message, string(te.Kind))
	}
	return session.ToolResult(call.ID, true, res.Content, "")
}

// stopReasonFor classifies a loop-terminating context error. Empty string
// means the error was not context-driven.
func stopReasonFor(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "deadline"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return "cancelled"
	default:
		return ""
	}
}
