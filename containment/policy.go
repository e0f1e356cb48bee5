package containment

import "sort"

// BuiltinToolsMode controls whether the agent may use its own built-in
// capabilities alongside the bridge tools.
type BuiltinToolsMode int

const (
	// BuiltinsDisabled blocks every agent-native capability.
	BuiltinsDisabled BuiltinToolsMode = iota
	// BuiltinsExplicitAllow permits only the capabilities listed in BuiltinAllow.
	BuiltinsExplicitAllow
)

// Policy restricts the tool and filesystem surface of a spawned agent.
// It is immutable once attached to a request.
type Policy struct {
	// AllowedTools is the set of bridge tool names the agent may call.
	AllowedTools map[string]struct{}

	// BuiltinTools selects how agent-native capabilities are handled.
	BuiltinTools BuiltinToolsMode

	// BuiltinAllow lists permitted built-in capabilities when
	// BuiltinTools is BuiltinsExplicitAllow.
	BuiltinAllow []string

	// SandboxBase is the directory under which per-request sandbox
	// directories are created. Empty means the system temp directory.
	SandboxBase string

	// DisableInteractiveEscapes asks the adapter to prevent the agent
	// from pausing for interactive permission prompts.
	DisableInteractiveEscapes bool
}

// DefaultAllowedTools are the three operations the bridge serves.
var DefaultAllowedTools = []string{"example", "validate", "submit"}

// NewPolicy creates a policy allowing exactly the three bridge tools,
// with built-in capabilities disabled and interactive escapes suppressed.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		AllowedTools:              make(map[string]struct{}, len(DefaultAllowedTools)),
		BuiltinTools:              BuiltinsDisabled,
		DisableInteractiveEscapes: true,
	}
	for _, name := range DefaultAllowedTools {
		p.AllowedTools[name] = struct{}{}
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PolicyOption configures a Policy at construction time.
type PolicyOption func(*Policy)

// WithAllowedTools replaces the allowed tool set.
func WithAllowedTools(names ...string) PolicyOption {
	return func(p *Policy) {
		p.AllowedTools = make(map[string]struct{}, len(names))
		for _, name := range names {
			if name != "" {
				p.AllowedTools[name] = struct{}{}
			}
		}
	}
}

// WithBuiltinAllow permits the listed agent-native capabilities.
func WithBuiltinAllow(names ...string) PolicyOption {
	return func(p *Policy) {
		p.BuiltinTools = BuiltinsExplicitAllow
		p.BuiltinAllow = names
	}
}

// WithSandboxBase sets the parent directory for sandbox directories.
func WithSandboxBase(dir string) PolicyOption {
	return func(p *Policy) { p.SandboxBase = dir }
}

// WithInteractiveEscapes re-enables interactive permission prompts.
func WithInteractiveEscapes() PolicyOption {
	return func(p *Policy) { p.DisableInteractiveEscapes = false }
}

// Allows reports whether the named tool may be dispatched.
func (p *Policy) Allows(name string) bool {
	if p == nil || len(p.AllowedTools) == 0 {
		return false
	}
	_, ok := p.AllowedTools[name]
	return ok
}

// ToolNames returns the allowed tool names in stable order.
func (p *Policy) ToolNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.AllowedTools))
	for _, name := range DefaultAllowedTools {
		if p.Allows(name) {
			names = append(names, name)
		}
	}
	var extras []string
	for name := range p.AllowedTools {
		if !isDefaultTool(name) {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	return append(names, extras...)
}

func isDefaultTool(name string) bool {
	for _, d := range DefaultAllowedTools {
		if name == d {
			return true
		}
	}
	return false
}
