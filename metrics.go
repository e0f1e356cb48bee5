package conform

import "time"

// Metrics accounts for the cost of one extraction. It is populated on
// every outcome so callers can always attribute spend.
type Metrics struct {
	// Attempts is the number of attempts that actually ran.
	Attempts int `json:"attempts"`
	// WallTime covers the whole extraction, all attempts included.
	WallTime time.Duration `json:"wall_time"`
	// EstimatedInputTokens and EstimatedOutputTokens use a
	// character-count heuristic and apply when the agent reports
	// nothing better.
	EstimatedInputTokens  int `json:"estimated_input_tokens"`
	EstimatedOutputTokens int `json:"estimated_output_tokens"`
	// InputTokens and OutputTokens hold real usage when the agent's
	// stream reports it; zero otherwise.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// estimateTokens applies the rough four-characters-per-token heuristic.
func estimateTokens(text string) int {
	return len(text) / 4
}
