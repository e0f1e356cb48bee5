// Package conform obtains schema-conforming structured output from
// external CLI agents. The caller supplies a JSON Schema and a prompt;
// conform spawns the agent, serves it the example/validate/submit tool
// bridge, and retries with structured feedback until the agent produces
// a conforming value or the attempt budget runs out.
package conform

import (
	"encoding/json"
	"time"

	"github.com/voocel/conform/adapter"
	"github.com/voocel/conform/containment"
)

// DefaultMaxAttempts bounds the retry loop when the caller does not
// override it.
const DefaultMaxAttempts = 3

// DefaultTimeoutPerAttempt bounds one spawn-prompt-respond cycle.
const DefaultTimeoutPerAttempt = 5 * time.Minute

// Request is the immutable input for one extraction. Build it with
// NewRequest; it is owned by one Extract call for its full lifetime.
type Request struct {
	// Schema is the JSON Schema the final value must satisfy.
	Schema json.RawMessage
	// Prompt tells the agent what to extract or produce.
	Prompt string
	// Payload is opaque context data, kept textually separate from the
	// prompt's instructions when presented to the agent.
	Payload string
	// MaxAttempts is the retry budget shared by every failure kind.
	MaxAttempts int
	// TimeoutPerAttempt is the hard deadline for one agent run.
	TimeoutPerAttempt time.Duration
	// Policy restricts the agent's tool and filesystem surface.
	Policy *containment.Policy
	// Adapter builds the concrete command line for the agent binary.
	Adapter adapter.Adapter
}

// RequestOption configures a Request at construction time.
type RequestOption func(*Request)

// NewRequest builds a request with the default attempt budget, timeout
// and containment policy.
func NewRequest(schema json.RawMessage, prompt string, opts ...RequestOption) *Request {
	req := &Request{
		Schema:            schema,
		Prompt:            prompt,
		MaxAttempts:       DefaultMaxAttempts,
		TimeoutPerAttempt: DefaultTimeoutPerAttempt,
		Policy:            containment.NewPolicy(),
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}

// WithPayload attaches opaque context data to the request.
func WithPayload(payload string) RequestOption {
	return func(r *Request) { r.Payload = payload }
}

// WithMaxAttempts sets the retry budget.
func WithMaxAttempts(n int) RequestOption {
	return func(r *Request) {
		if n > 0 {
			r.MaxAttempts = n
		}
	}
}

// WithTimeoutPerAttempt sets the per-attempt deadline.
func WithTimeoutPerAttempt(d time.Duration) RequestOption {
	return func(r *Request) {
		if d > 0 {
			r.TimeoutPerAttempt = d
		}
	}
}

// WithPolicy replaces the default containment policy.
func WithPolicy(p *containment.Policy) RequestOption {
	return func(r *Request) {
		if p != nil {
			r.Policy = p
		}
	}
}

// WithAdapter selects the agent adapter.
func WithAdapter(a adapter.Adapter) RequestOption {
	return func(r *Request) { r.Adapter = a }
}
