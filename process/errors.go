package process

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTimeout is returned when Spawn is given a non-positive timeout.
	ErrInvalidTimeout = errors.New("process: timeout must be positive")
	// ErrInvalidDir is returned when the working directory is missing or unusable.
	ErrInvalidDir = errors.New("process: working directory does not exist or is not writable")
)

// SpawnError reports that the agent binary could not be started at all.
// It is fatal for the extraction, not just the attempt.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("process: spawn %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IOError reports a stream-capture failure while the process was running.
// It consumes retry budget like a crash.
type IOError struct {
	Stream Source
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("process: read %s: %v", e.Stream, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
