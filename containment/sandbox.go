package containment

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Sandbox is an ephemeral working directory owned by exactly one
// extraction request. It exists from creation until Cleanup, which the
// owner must guarantee on every exit path.
type Sandbox struct {
	Dir string
}

// NewSandbox creates a fresh sandbox directory under base. An empty
// base falls back to the system temp directory.
func NewSandbox(base string) (*Sandbox, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("containment: create sandbox base: %w", err)
	}
	dir := filepath.Join(base, "conform-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("containment: create sandbox: %w", err)
	}
	return &Sandbox{Dir: dir}, nil
}

// Cleanup removes the sandbox directory and everything inside it.
// It is safe to call more than once.
func (s *Sandbox) Cleanup() error {
	if s == nil || s.Dir == "" {
		return nil
	}
	dir := s.Dir
	s.Dir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("containment: remove sandbox: %w", err)
	}
	return nil
}
