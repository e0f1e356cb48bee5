package conform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/voocel/conform/adapter"
	"github.com/voocel/conform/bridge"
	"github.com/voocel/conform/containment"
	"github.com/voocel/conform/process"
	"github.com/voocel/conform/schema"
)

// toolBridge is the orchestrator's view of the tool bridge.
type toolBridge interface {
	Serve() (string, error)
	Close(ctx context.Context) error
	Reset()
	TakeSubmission() (json.RawMessage, bool)
}

// Extractor drives extraction requests. The zero-cost construction via
// New makes one Extractor reusable across many concurrent requests;
// each request owns its own sandbox, bridge and process.
type Extractor struct {
	logger     *zap.Logger
	observer   Observer
	supervisor *process.Supervisor

	// newBridge is swappable so the retry loop can be tested without a
	// live MCP endpoint.
	newBridge func(target json.RawMessage, policy *containment.Policy, logger *zap.Logger) (toolBridge, error)
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithLogger sets the logger used across the extraction pipeline.
func WithLogger(logger *zap.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver registers lifecycle callbacks.
func WithObserver(obs Observer) ExtractorOption {
	return func(e *Extractor) {
		if obs != nil {
			e.observer = obs
		}
	}
}

// WithSupervisor replaces the default process supervisor, for callers
// that need to tune queue size or the termination grace period.
func WithSupervisor(sup *process.Supervisor) ExtractorOption {
	return func(e *Extractor) {
		if sup != nil {
			e.supervisor = sup
		}
	}
}

// New creates an Extractor.
func New(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		logger:   zap.NewNop(),
		observer: NoopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.supervisor == nil {
		e.supervisor = process.NewSupervisor(process.WithLogger(e.logger))
	}
	if e.newBridge == nil {
		e.newBridge = func(target json.RawMessage, policy *containment.Policy, logger *zap.Logger) (toolBridge, error) {
			return bridge.New(target, policy, logger)
		}
	}
	return e
}

// Extract runs one extraction with a default Extractor.
func Extract(ctx context.Context, req *Request) (*Outcome, error) {
	return New().Extract(ctx, req)
}

// Extract drives the retry loop for one request. Attempts are strictly
// sequential: the next one starts only after the previous process has
// been reaped and its readers joined, because its prompt depends on the
// previous result. The returned error reports misuse (nil request,
// uncompilable schema); agent-level failures land in the Outcome.
func (e *Extractor) Extract(ctx context.Context, req *Request) (*Outcome, error) {
	if req == nil {
		return nil, errors.New("conform: request is nil")
	}
	if req.Adapter == nil {
		return nil, errors.New("conform: request has no adapter")
	}
	if req.Policy == nil {
		req.Policy = containment.NewPolicy()
	}
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = DefaultMaxAttempts
	}
	if req.TimeoutPerAttempt <= 0 {
		req.TimeoutPerAttempt = DefaultTimeoutPerAttempt
	}
	compiled, err := schema.Compile(req.Schema)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	metrics := Metrics{}
	finish := func(o *Outcome) *Outcome {
		metrics.WallTime = time.Since(start)
		o.Metrics = metrics
		e.observer.OnOutcome(o)
		return o
	}

	sandbox, err := containment.NewSandbox(req.Policy.SandboxBase)
	if err != nil {
		return finish(&Outcome{Status: StatusAgentError, Err: err}), nil
	}
	defer func() {
		if cerr := sandbox.Cleanup(); cerr != nil {
			e.logger.Warn("sandbox cleanup failed", zap.Error(cerr))
		}
	}()

	br, err := e.newBridge(req.Schema, req.Policy, e.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cerr := br.Close(closeCtx); cerr != nil {
			e.logger.Warn("bridge close failed", zap.Error(cerr))
		}
	}()

	endpoint, err := br.Serve()
	if err != nil {
		return finish(&Outcome{Status: StatusAgentError, Err: err}), nil
	}

	reporter, _ := req.Adapter.(adapter.UsageReporter)

	var attempts []AttemptRecord
	var prev *AttemptRecord
	var lastRaw string

	for attempt := 1; attempt <= req.MaxAttempts; attempt++ {
		e.observer.OnAttemptStart(attempt, req.MaxAttempts)
		br.Reset()

		prompt := buildAttemptPrompt(req, attempt, prev)
		metrics.EstimatedInputTokens += estimateTokens(prompt)

		inv, err := req.Adapter.BuildInvocation(prompt, req.Policy, endpoint, sandbox.Dir)
		if err != nil {
			metrics.Attempts = len(attempts)
			return finish(&Outcome{Status: StatusAgentError, Attempts: attempts, Err: err}), nil
		}

		handle, err := e.supervisor.Spawn(process.Command{
			Path: inv.Path,
			Args: inv.Args,
			Env:  inv.Env,
			Dir:  inv.Dir,
		}, req.TimeoutPerAttempt)
		if err != nil {
			// Spawn failures are fatal for the extraction, not retried:
			// a missing binary will not appear between attempts.
			metrics.Attempts = len(attempts)
			return finish(&Outcome{Status: StatusAgentError, Attempts: attempts, Err: err}), nil
		}

		e.logger.Debug("attempt started",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", req.MaxAttempts),
			zap.String("agent", req.Adapter.Name()),
			zap.Int("pid", handle.PID()),
		)

		attemptStart := time.Now()
		drained := make(chan struct{})
		var usageIn, usageOut int
		var sawUsage bool
		go func() {
			defer close(drained)
			for ev := range handle.Events() {
				e.observer.OnAgentOutput(attempt, ev)
				if reporter != nil && ev.IsJSON() {
					if in, out, ok := reporter.Usage(ev.JSON); ok {
						usageIn, usageOut, sawUsage = in, out, true
					}
				}
			}
		}()

		exit, waitErr := e.supervisor.Wait(ctx, handle)
		<-drained

		raw := exit.Stdout
		if exit.Stderr != "" {
			raw += exit.Stderr
		}
		metrics.EstimatedOutputTokens += estimateTokens(raw)
		if sawUsage {
			metrics.InputTokens += usageIn
			metrics.OutputTokens += usageOut
		}

		record := AttemptRecord{
			Number:     attempt,
			PromptSent: prompt,
			RawOutput:  raw,
			Elapsed:    time.Since(attemptStart),
		}

		submitted, hasSubmission := br.TakeSubmission()
		if hasSubmission {
			record.Submitted = submitted
			violations, verr := compiled.Validate(submitted)
			switch {
			case verr != nil:
				record.ValidationErrors = []string{fmt.Sprintf("submission is not valid JSON: %v", verr)}
			case len(violations) == 0:
				attempts = append(attempts, record)
				e.observer.OnAttemptEnd(attempt, record)
				metrics.Attempts = attempt
				e.logger.Info("extraction succeeded",
					zap.Int("attempts", attempt),
					zap.Duration("elapsed", time.Since(start)),
				)
				return finish(&Outcome{
					Status:        StatusSuccess,
					Value:         submitted,
					Attempts:      attempts,
					LastRawOutput: raw,
				}), nil
			default:
				record.ValidationErrors = schema.Messages(violations)
			}
		} else {
			record.ValidationErrors = []string{noSubmissionCause(req, exit, waitErr)}
		}

		attempts = append(attempts, record)
		e.observer.OnAttemptEnd(attempt, record)
		prev = &attempts[len(attempts)-1]
		lastRaw = raw

		e.logger.Debug("attempt failed",
			zap.Int("attempt", attempt),
			zap.Strings("errors", record.ValidationErrors),
		)

		if waitErr != nil {
			// Caller cancellation: tear down, do not start the next
			// attempt.
			metrics.Attempts = len(attempts)
			return finish(&Outcome{
				Status:        StatusAgentError,
				Attempts:      attempts,
				LastRawOutput: lastRaw,
				Err:           waitErr,
			}), nil
		}
	}

	metrics.Attempts = len(attempts)
	return finish(&Outcome{
		Status:        StatusMaxRetriesExceeded,
		Attempts:      attempts,
		LastRawOutput: lastRaw,
	}), nil
}

// noSubmissionCause explains a missing submission in the attempt record.
func noSubmissionCause(req *Request, exit process.ExitOutcome, waitErr error) string {
	switch {
	case waitErr != nil:
		return fmt.Sprintf("attempt canceled before the agent finished: %v", waitErr)
	case exit.IOErr != nil:
		return fmt.Sprintf("agent output capture failed: %v", exit.IOErr)
	case exit.TimedOut:
		return fmt.Sprintf("agent timed out after %s without submitting a result", req.TimeoutPerAttempt)
	case exit.ExitCode != 0:
		return fmt.Sprintf("agent exited with code %d without submitting a result", exit.ExitCode)
	default:
		return "agent did not submit a result"
	}
}
