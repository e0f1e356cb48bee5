package adapter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/voocel/conform/containment"
)

// Claude drives the claude CLI in non-interactive print mode with the
// bridge registered as an SSE MCP server.
type Claude struct {
	// Binary overrides the executable name, default "claude".
	Binary string
	// MaxTurns caps the agent's internal tool-use turns per attempt.
	MaxTurns int
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) binary() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "claude"
}

func (c *Claude) maxTurns() int {
	if c.MaxTurns > 0 {
		return c.MaxTurns
	}
	return 10
}

// BuildInvocation writes the MCP config into the sandbox and assembles
// the flag set: print mode, stream-json output, only the bridge tools
// allowed, and permission prompts bypassed when the policy disables
// interactive escapes.
func (c *Claude) BuildInvocation(prompt string, policy *containment.Policy, endpoint, sandboxDir string) (Invocation, error) {
	cfgPath, err := writeMCPConfig(sandboxDir, endpoint)
	if err != nil {
		return Invocation{}, err
	}

	args := []string{
		"-p", prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(c.maxTurns()),
		"--mcp-config", cfgPath,
	}

	allowed := ""
	for i, name := range policy.ToolNames() {
		if i > 0 {
			allowed += ","
		}
		allowed += "mcp__conform__" + name
	}
	if policy.BuiltinTools == containment.BuiltinsExplicitAllow {
		for _, name := range policy.BuiltinAllow {
			allowed += "," + name
		}
	}
	args = append(args, "--allowedTools", allowed)

	if policy.DisableInteractiveEscapes {
		args = append(args, "--dangerously-skip-permissions")
	}

	return Invocation{
		Path: c.binary(),
		Args: args,
		Env:  os.Environ(),
		Dir:  sandboxDir,
	}, nil
}

func writeMCPConfig(sandboxDir, endpoint string) (string, error) {
	cfg := map[string]any{
		"mcpServers": map[string]any{
			"conform": map[string]any{
				"type": "sse",
				"url":  endpoint,
			},
		},
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("adapter: encode mcp config: %w", err)
	}
	path := filepath.Join(sandboxDir, "mcp-config.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("adapter: write mcp config: %w", err)
	}
	return path, nil
}

// Usage reads token counts from the final result event of claude's
// stream-json output.
func (c *Claude) Usage(line json.RawMessage) (int, int, bool) {
	var msg struct {
		Type  string `json:"type"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(line, &msg); err != nil {
		return 0, 0, false
	}
	if msg.Type != "result" {
		return 0, 0, false
	}
	return msg.Usage.InputTokens, msg.Usage.OutputTokens, true
}

var (
	_ Adapter       = (*Claude)(nil)
	_ UsageReporter = (*Claude)(nil)
)
