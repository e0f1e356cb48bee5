// Package adapter maps one agent CLI's flag vocabulary onto the host's
// containment and transport requirements. The core never branches on
// which agent binary is in use beyond this boundary.
package adapter

import (
	"encoding/json"

	"github.com/voocel/conform/containment"
)

// Invocation is a ready-to-spawn command line.
type Invocation struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Adapter builds an invocation for one concrete agent binary. Given a
// policy with built-in tools disabled, the invocation must make a best
// effort to keep the agent inside the three bridge tools; the core does
// not re-verify beyond the bridge allowlist check.
type Adapter interface {
	Name() string
	BuildInvocation(prompt string, policy *containment.Policy, endpoint, sandboxDir string) (Invocation, error)
}

// UsageReporter is implemented by adapters that can read real token
// usage out of the agent's native streaming output. When absent, the
// orchestrator falls back to a character-count estimate.
type UsageReporter interface {
	Usage(line json.RawMessage) (inputTokens, outputTokens int, ok bool)
}
