package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// Result is the uniform success payload of a tool invocation.
type Result struct {
	// Content is the bounded, masked text handed back to the LLM.
	Content string
	// Truncated is set when Content was cut to honor the output-size cap,
	// together with the reason embedded in the content itself.
	Truncated bool
	// CacheHit marks results served from the metric cache.
	CacheHit bool
}

// TextResult builds a plain result.
func TextResult(content string) *Result {
	return &Result{Content: content}
}

// JSONResult marshals a structured record into a result.
func JSONResult(v any) (*Result, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, NewUpstreamError("failed to encode result: %v", err)
	}
	return &Result{Content: string(b)}, nil
}

// Handler executes one tool against already-validated arguments.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

// masker scrubs secret material from tool results before they reach the
// model. Satisfied by masking.Service.
type masker interface {
	MaskToolResult(content string) string
}

// Catalog is the tool dispatch table. Adapters register their descriptors
// and handlers at boot; the LLM driver invokes by name. Immutable after
// registration completes.
type Catalog struct {
	descriptors map[string]Descriptor
	handlers    map[string]Handler
	masker      masker
	logger      *slog.Logger
}

// NewCatalog creates an empty catalog. The masker may be nil in tests.
func NewCatalog(m masker) *Catalog {
	return &Catalog{
		descriptors: make(map[string]Descriptor),
		handlers:    make(map[string]Handler),
		masker:      m,
		logger:      slog.Default().With("component", "tools"),
	}
}

// Register adds one tool. Duplicate names are a programming fault.
func (c *Catalog) Register(d Descriptor, h Handler) error {
	if d.Name == "" {
		return fmt.Errorf("tool descriptor has no name")
	}
	if _, exists := c.descriptors[d.Name]; exists {
		return fmt.Errorf("tool already registered: %s", d.Name)
	}
	if h == nil {
		return fmt.Errorf("tool %s has no handler", d.Name)
	}
	c.descriptors[d.Name] = d
	c.handlers[d.Name] = h
	return nil
}

// MustRegister registers a tool and panics on conflict. Registration runs
// once at boot; a conflict is a programming fault.
func (c *Catalog) MustRegister(d Descriptor, h Handler) {
	if err := c.Register(d, h); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for a tool name.
func (c *Catalog) Get(name string) (Descriptor, bool) {
	d, ok := c.descriptors[name]
	return d, ok
}

// Descriptors returns all registered descriptors, sorted by name.
func (c *Catalog) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(c.descriptors))
	for _, d := range c.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Subset returns the descriptors for the named tools, in name order.
// Unknown names are skipped — a profile listing a tool this deployment did
// not register (e.g. Datadog unconfigured) simply does not offer it.
func (c *Catalog) Subset(names []string) []Descriptor {
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		if d, ok := c.descriptors[n]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered tool names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.descriptors))
	for n := range c.descriptors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke validates arguments, executes the named tool under the retry
// policy, masks the result, and enforces the output-size cap.
//
// Failures return a *ToolError; the caller (the LLM driver) converts them
// to tool results for the model. Invoke performs no safety adjudication —
// that happens in the safety chain before this call.
func (c *Catalog) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (*Result, error) {
	d, ok := c.descriptors[name]
	if !ok {
		return nil, NewValidationError("unknown tool: %s", name)
	}

	args, verr := ValidateArgs(d.InputSchema, rawArgs)
	if verr != nil {
		return nil, verr
	}

	handler := c.handlers[name]
	res, err := withRetry(ctx, c.logger, name, func(ctx context.Context) (*Result, error) {
		return handler(ctx, args)
	})
	if err != nil {
		return nil, AsToolError(err)
	}
	if res == nil {
		res = TextResult("")
	}

	if c.masker != nil {
		res.Content = c.masker.MaskToolResult(res.Content)
	}

	content, truncated := TruncateResult(res.Content, DefaultResultMaxTokens)
	res.Content = content
	if truncated {
		res.Truncated = true
	}

	return res, nil
}
