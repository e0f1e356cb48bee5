package conform

import (
	"encoding/json"
	"time"
)

// Status tags the terminal state of one extraction.
type Status int

const (
	// StatusSuccess means a submitted value satisfied the schema.
	StatusSuccess Status = iota
	// StatusMaxRetriesExceeded means every attempt in the budget failed;
	// the full attempt history is attached.
	StatusMaxRetriesExceeded
	// StatusAgentError means the agent could not run at all (spawn
	// failure). No retry budget was consumed.
	StatusAgentError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusMaxRetriesExceeded:
		return "max_retries_exceeded"
	case StatusAgentError:
		return "agent_error"
	default:
		return "unknown"
	}
}

// AttemptRecord is the immutable record of one spawn-prompt-respond-
// validate cycle. It is finalized only after both output streams have
// been fully drained.
type AttemptRecord struct {
	// Number is 1-indexed.
	Number int `json:"number"`
	// PromptSent is the full prompt including any retry feedback.
	PromptSent string `json:"prompt_sent"`
	// RawOutput is the agent's complete output, kept for diagnostics.
	RawOutput string `json:"raw_output"`
	// Submitted is the candidate passed to submit, nil when the agent
	// never submitted.
	Submitted json.RawMessage `json:"submitted,omitempty"`
	// ValidationErrors lists field-level violations in order; empty
	// means the candidate was valid.
	ValidationErrors []string `json:"validation_errors,omitempty"`
	// Elapsed is the wall time of this attempt.
	Elapsed time.Duration `json:"elapsed"`
}

// Outcome is the only return type of Extract. Callers switch on Status.
type Outcome struct {
	Status Status
	// Value is the conforming result, set only on StatusSuccess.
	Value json.RawMessage
	// Attempts is the complete history. On StatusMaxRetriesExceeded its
	// length always equals the request's MaxAttempts.
	Attempts []AttemptRecord
	// LastRawOutput is the raw output of the final attempt.
	LastRawOutput string
	// Err carries the underlying cause on StatusAgentError.
	Err error
	// Metrics is populated on every outcome, success or failure.
	Metrics Metrics
}

// Succeeded reports whether a conforming value was produced.
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Decode unmarshals the successful value into v.
func (o *Outcome) Decode(v any) error {
	return json.Unmarshal(o.Value, v)
}
