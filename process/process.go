package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the lifecycle state of a supervised process.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusCompleted
	StatusTimedOut
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusTimedOut:
		return "timed_out"
	case StatusKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Command describes one process invocation.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// ExitOutcome is the final result of one supervised process run.
type ExitOutcome struct {
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
	// IOErr is set when stream capture failed mid-run.
	IOErr error
}

// Supervisor spawns external processes and guarantees that every one of
// them is reaped and its reader goroutines joined before Wait returns,
// on every exit path.
type Supervisor struct {
	queueSize int
	grace     time.Duration
	logger    *zap.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithQueueSize sets the bounded event queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithGracePeriod sets how long a process has to exit after the
// graceful-termination signal before it is force-killed.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the supervisor logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSupervisor creates a Supervisor with a 256-entry event queue and a
// five second termination grace period.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		queueSize: 256,
		grace:     5 * time.Second,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle wraps one spawned process together with its stream readers.
type Handle struct {
	id      string
	cmd     *exec.Cmd
	pid     int
	timeout time.Duration
	events  chan OutputEvent
	readers *errgroup.Group

	mu     sync.Mutex
	status Status
	stdout strings.Builder
	stderr strings.Builder

	reapOnce sync.Once
	reapErr  error
}

// PID returns the operating-system process id.
func (h *Handle) PID() int { return h.pid }

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Events returns the bounded stream of output events. The caller must
// drain it until it closes; the producers block on a full queue.
func (h *Handle) Events() <-chan OutputEvent { return h.events }

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

func (h *Handle) record(src Source, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch src {
	case SourceStdout:
		h.stdout.WriteString(line)
		h.stdout.WriteByte('\n')
	default:
		h.stderr.WriteString(line)
		h.stderr.WriteByte('\n')
	}
}

func (h *Handle) captured() (string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stdout.String(), h.stderr.String()
}

// reap waits for the process exit status exactly once. It must only run
// after both stream readers have observed end-of-stream, per os/exec's
// pipe contract.
func (h *Handle) reap() error {
	h.reapOnce.Do(func() {
		h.reapErr = h.cmd.Wait()
	})
	return h.reapErr
}

// Spawn starts the command with stdout and stderr piped through the
// bounded event queue. Dir must exist and be writable; timeout must be
// positive. A start failure is reported as *SpawnError.
func (s *Supervisor) Spawn(command Command, timeout time.Duration) (*Handle, error) {
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if err := checkWritableDir(command.Dir); err != nil {
		return nil, err
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Dir = command.Dir
	cmd.Env = command.Env
	setProcAttributes(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("process: stderr pipe: %w", err)
	}

	h := &Handle{
		id:      uuid.NewString(),
		cmd:     cmd,
		timeout: timeout,
		events:  make(chan OutputEvent, s.queueSize),
		status:  StatusNotStarted,
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: command.Path, Err: err}
	}
	h.pid = cmd.Process.Pid
	h.setStatus(StatusRunning)
	s.logger.Debug("process started",
		zap.String("process_id", h.id),
		zap.String("path", command.Path),
		zap.Int("pid", h.pid),
	)

	g := &errgroup.Group{}
	g.Go(func() error { return h.readLines(stdout, SourceStdout) })
	g.Go(func() error { return h.readLines(stderr, SourceStderr) })
	h.readers = g

	return h, nil
}

// Wait blocks until the process finishes or its timeout elapses. On
// timeout it runs the termination sequence: graceful signal, grace
// period, force kill. On every path it reaps the process and joins both
// stream readers before returning, then closes the event channel.
func (s *Supervisor) Wait(ctx context.Context, h *Handle) (ExitOutcome, error) {
	readersDone := make(chan error, 1)
	go func() { readersDone <- h.readers.Wait() }()

	// Reap-and-join runs regardless of which branch below is taken,
	// including panics in this function.
	var readErr error
	finalized := false
	finalize := func() {
		if finalized {
			return
		}
		finalized = true
		readErr = <-readersDone
		_ = h.reap()
		close(h.events)
	}
	defer finalize()

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case err := <-readersDone:
		readersDone <- err
	case <-timer.C:
		timedOut = true
		h.setStatus(StatusTimedOut)
		s.terminate(h, readersDone)
	case <-ctx.Done():
		h.setStatus(StatusKilled)
		s.terminate(h, readersDone)
	}

	finalize()

	waitErr := h.reapErr
	outcome := ExitOutcome{TimedOut: timedOut}
	outcome.Stdout, outcome.Stderr = h.captured()
	outcome.IOErr = readErr

	switch {
	case timedOut:
		outcome.ExitCode = -1
	case h.Status() == StatusKilled:
		outcome.ExitCode = -1
	default:
		outcome.ExitCode = exitCode(h.cmd, waitErr)
		h.setStatus(StatusCompleted)
	}

	s.logger.Debug("process finished",
		zap.String("process_id", h.id),
		zap.Int("exit_code", outcome.ExitCode),
		zap.Bool("timed_out", outcome.TimedOut),
	)

	if ctx.Err() != nil && !timedOut {
		return outcome, ctx.Err()
	}
	return outcome, nil
}

// terminate escalates: graceful signal first where the platform has
// one, then a force kill once the grace period runs out. The readers
// observe end-of-stream once the process (and its group) is gone.
func (s *Supervisor) terminate(h *Handle, readersDone chan error) {
	if signalGraceful(h.cmd) {
		select {
		case err := <-readersDone:
			readersDone <- err
			return
		case <-time.After(s.grace):
		}
		s.logger.Warn("process ignored graceful termination, force killing",
			zap.String("process_id", h.id),
			zap.Int("pid", h.pid),
		)
	}
	kill(h.cmd)
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if waitErr == nil {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func checkWritableDir(dir string) error {
	if dir == "" {
		return ErrInvalidDir
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrInvalidDir, dir)
	}
	probe := filepath.Join(dir, ".conform-probe-"+uuid.NewString())
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidDir, dir)
	}
	f.Close()
	os.Remove(probe)
	return nil
}
