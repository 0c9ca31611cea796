// Package llm drives the reason-act loop: a provider client turns bounded
// conversations into text or tool calls, and the driver executes those
// calls through the safety chain and tool catalog until the model concludes
// or the budget runs out.
package llm

import (
	"context"
	"encoding/json"

	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

// ToolCallRequest is one tool invocation the model asked for.
type ToolCallRequest struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Reply is one provider response: terminal text, or tool calls to run, or
// both (text preceding the calls).
type Reply struct {
	Text       string
	ToolCalls  []ToolCallRequest
	TokensUsed int
}

// Request is one provider call.
type Request struct {
	Model     string
	System    string
	Messages  []session.Message
	Tools     []tools.Descriptor
	MaxTokens int
}

// Client is the provider boundary. Implementations retry transient
// provider failures internally, honoring ctx.
type Client interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}
