// Package bridge serves the three schema-bound operations (example,
// validate, submit) to a spawned agent process over MCP.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/voocel/conform/containment"
	"github.com/voocel/conform/schema"
)

// Canonical tool names served by every bridge.
const (
	ToolExample  = "example"
	ToolValidate = "validate"
	ToolSubmit   = "submit"
)

// ServerName is the MCP server identity agents see in tool listings.
const ServerName = "conform"

var (
	// ErrToolNotFound is returned for a call to an unregistered tool name.
	ErrToolNotFound = errors.New("bridge: tool not found")
	// ErrToolNotPermitted is returned when the containment policy
	// excludes the called tool. The agent is informed, never silently
	// dropped, so it can adapt within the same attempt.
	ErrToolNotPermitted = errors.New("bridge: tool not permitted")
)

// ToolDefinition is one callable operation as exposed on the wire.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Bridge translates between the agent-facing MCP protocol and the
// host's three canonical operations, bound to one request's schema.
type Bridge struct {
	target  *schema.Compiled
	policy  *containment.Policy
	logger  *zap.Logger
	listing []ToolDefinition

	mcpServer *server.MCPServer
	httpSrv   *http.Server
	listener  net.Listener
	endpoint  string

	mu        sync.Mutex
	submitted json.RawMessage
	hasSubmit bool
	submits   int
}

// New builds a bridge bound to the request's target schema and policy.
func New(target json.RawMessage, policy *containment.Policy, logger *zap.Logger) (*Bridge, error) {
	compiled, err := schema.Compile(target)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		policy = containment.NewPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bridge{
		target: compiled,
		policy: policy,
		logger: logger,
	}
	b.listing = buildToolListing(target)

	mcpServer := server.NewMCPServer(
		ServerName,
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	for _, def := range b.listing {
		def := def
		tool := mcp.NewToolWithRawSchema(def.Name, def.Description, def.Parameters)
		mcpServer.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return b.handleCall(ctx, def.Name, req)
		})
	}
	b.mcpServer = mcpServer
	return b, nil
}

// Listing returns the three tool definitions bound to the request schema.
func (b *Bridge) Listing() []ToolDefinition {
	return b.listing
}

// buildToolListing generates the three definitions from the target schema.
func buildToolListing(target json.RawMessage) []ToolDefinition {
	noParams := json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	candidateParams := mustParams(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"candidate": map[string]any{
				"description": "The value to check against the target schema. May be any JSON value.",
			},
		},
		"required": []string{"candidate"},
	})
	valueParams := mustParams(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value": map[string]any{
				"description": "The final answer. Must satisfy the target schema.",
			},
		},
		"required": []string{"value"},
	})

	return []ToolDefinition{
		{
			Name: ToolExample,
			Description: "Returns an example value with the exact shape the final answer must have. " +
				"Call this first to see the target structure. Target schema: " + string(target),
			Parameters: noParams,
		},
		{
			Name: ToolValidate,
			Description: "Checks a candidate value against the target schema. Returns \"valid\" or " +
				"the ordered list of violations. Validation is strict: no type coercion, no extra fields " +
				"unless the schema allows them.",
			Parameters: candidateParams,
		},
		{
			Name:        ToolSubmit,
			Description: "Submits the final answer. Call exactly once, after validate reports no violations.",
			Parameters:  valueParams,
		},
	}
}

func mustParams(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// handleCall adapts an MCP tool call onto Dispatch, translating
// rejections into protocol-level errors the agent can read.
func (b *Bridge) handleCall(ctx context.Context, name string, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := b.Dispatch(ctx, name, req.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("bridge: encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Dispatch routes one tool call. The containment allowlist is checked
// before any handler runs; this is the enforcement point for calls the
// policy excludes.
func (b *Bridge) Dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	if !b.policy.Allows(name) {
		b.logger.Warn("rejected tool call outside allowlist", zap.String("tool", name))
		return nil, fmt.Errorf("%w: %s", ErrToolNotPermitted, name)
	}
	switch name {
	case ToolExample:
		return b.handleExample()
	case ToolValidate:
		return b.handleValidate(args)
	case ToolSubmit:
		return b.handleSubmit(args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
}

func (b *Bridge) handleExample() (any, error) {
	var v any
	if err := json.Unmarshal(b.target.Example(), &v); err != nil {
		return nil, fmt.Errorf("bridge: build example: %w", err)
	}
	return v, nil
}

func (b *Bridge) handleValidate(args map[string]any) (any, error) {
	candidate, ok := args["candidate"]
	if !ok {
		return nil, errors.New("bridge: validate requires a candidate argument")
	}
	violations := b.target.ValidateValue(candidate)
	if len(violations) == 0 {
		return "valid", nil
	}
	return schema.Messages(violations), nil
}

// handleSubmit captures the value verbatim with no validation side
// effect; the orchestrator judges validity. A repeat submit within one
// attempt replaces the pending value (last write wins) with a warning.
func (b *Bridge) handleSubmit(args map[string]any) (any, error) {
	value, ok := args["value"]
	if !ok {
		return nil, errors.New("bridge: submit requires a value argument")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode submission: %w", err)
	}

	b.mu.Lock()
	b.submits++
	if b.hasSubmit {
		b.logger.Warn("repeat submit in one attempt, replacing pending value",
			zap.Int("submit_count", b.submits),
		)
	}
	b.submitted = raw
	b.hasSubmit = true
	b.mu.Unlock()

	return "acknowledged", nil
}

// TakeSubmission hands the captured submission to the orchestrator and
// clears it. Each attempt consumes at most one submission.
func (b *Bridge) TakeSubmission() (json.RawMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasSubmit {
		return nil, false
	}
	value := b.submitted
	b.submitted = nil
	b.hasSubmit = false
	return value, true
}

// Reset clears per-attempt state before the next attempt spawns.
func (b *Bridge) Reset() {
	b.mu.Lock()
	b.submitted = nil
	b.hasSubmit = false
	b.submits = 0
	b.mu.Unlock()
}
