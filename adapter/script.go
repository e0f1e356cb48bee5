package adapter

import (
	"errors"
	"os"
	"strings"

	"github.com/voocel/conform/containment"
)

// Placeholders expanded in Script argument templates.
const (
	PlaceholderPrompt   = "{{prompt}}"
	PlaceholderEndpoint = "{{endpoint}}"
)

// Script runs an arbitrary binary. The prompt and bridge endpoint reach
// the process through argument placeholders and through the
// CONFORM_PROMPT / CONFORM_ENDPOINT environment variables, whichever
// the binary prefers. Useful for wrapping agents without a dedicated
// adapter and for exercising the pipeline in tests.
type Script struct {
	Path string
	Args []string
}

func (s *Script) Name() string { return "script" }

func (s *Script) BuildInvocation(prompt string, policy *containment.Policy, endpoint, sandboxDir string) (Invocation, error) {
	if s.Path == "" {
		return Invocation{}, errors.New("adapter: script path is empty")
	}
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		a = strings.ReplaceAll(a, PlaceholderPrompt, prompt)
		a = strings.ReplaceAll(a, PlaceholderEndpoint, endpoint)
		args[i] = a
	}
	env := append(os.Environ(),
		"CONFORM_PROMPT="+prompt,
		"CONFORM_ENDPOINT="+endpoint,
	)
	return Invocation{
		Path: s.Path,
		Args: args,
		Env:  env,
		Dir:  sandboxDir,
	}, nil
}

var _ Adapter = (*Script)(nil)
