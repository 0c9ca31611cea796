package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/codeready-toolchain/vigil/pkg/llm"
)

// ScriptReply is one scripted provider response: terminal text, tool calls,
// or an error.
type ScriptReply struct {
	Text      string
	ToolCalls []llm.ToolCallRequest
	Err       error
}

type route struct {
	match   string
	replies []ScriptReply
	index   int
}

// ScriptedClient implements llm.Client with system-prompt routing: each
// agent profile carries a distinctive system prompt, so replies are matched
// on a substring of it. Calls that match no route consume the sequential
// script; running out of script is a test bug surfaced as an error.
type ScriptedClient struct {
	mu         sync.Mutex
	routes     []*route
	sequential []ScriptReply
	seqIndex   int
	requests   []llm.Request
}

func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{}
}

// Route queues replies for calls whose system prompt contains the given
// substring. Calling again with the same substring appends to the queue.
func (c *ScriptedClient) Route(systemContains string, replies ...ScriptReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.routes {
		if r.match == systemContains {
			r.replies = append(r.replies, replies...)
			return
		}
	}
	c.routes = append(c.routes, &route{match: systemContains, replies: replies})
}

// Add queues replies consumed in order by calls that match no route.
func (c *ScriptedClient) Add(replies ...ScriptReply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, replies...)
}

// Requests returns a copy of every captured provider call.
func (c *ScriptedClient) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

func (c *ScriptedClient) Complete(_ context.Context, req llm.Request) (*llm.Reply, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	entry, err := c.next(req)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if entry.Err != nil {
		return nil, entry.Err
	}
	return &llm.Reply{
		Text:       entry.Text,
		ToolCalls:  entry.ToolCalls,
		TokensUsed: 25,
	}, nil
}

func (c *ScriptedClient) next(req llm.Request) (ScriptReply, error) {
	for _, r := range c.routes {
		if strings.Contains(req.System, r.match) && r.index < len(r.replies) {
			entry := r.replies[r.index]
			r.index++
			return entry, nil
		}
	}
	if c.seqIndex < len(c.sequential) {
		entry := c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}
	return ScriptReply{}, fmt.Errorf("unscripted LLM call (system prompt: %.60q)", req.System)
}
