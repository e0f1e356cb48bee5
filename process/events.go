package process

import (
	"bufio"
	"encoding/json"
	"io"
)

// Source identifies which stream a captured line came from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
)

// OutputEvent is one line of agent output. Lines that parse as JSON
// carry the parsed payload in JSON; everything else is plain text. A
// line that fails to parse is still forwarded, never dropped.
type OutputEvent struct {
	Source Source
	Text   string
	JSON   json.RawMessage
}

// IsJSON reports whether the line parsed as a JSON value.
func (e OutputEvent) IsJSON() bool {
	return len(e.JSON) > 0
}

// maxLineBytes bounds a single captured line. A longer line aborts
// capture on that stream with an IOError; the remainder is discarded.
const maxLineBytes = 1 << 20

// readLines scans one stream line by line, records the full text for
// diagnostics, and forwards each line as an event. The send blocks when
// the queue is full, which is the backpressure contract: a fast
// producer stalls instead of growing memory.
func (h *Handle) readLines(r io.Reader, src Source) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		h.record(src, line)
		ev := OutputEvent{Source: src, Text: line}
		if raw := parseJSONLine(line); raw != nil {
			ev.JSON = raw
		}
		h.events <- ev
	}
	if err := sc.Err(); err != nil {
		// Keep consuming so the child is not left blocked writing into
		// a full pipe; it must stay free to exit on its own.
		io.Copy(io.Discard, r)
		return &IOError{Stream: src, Err: err}
	}
	return nil
}

func parseJSONLine(line string) json.RawMessage {
	if len(line) == 0 {
		return nil
	}
	switch line[0] {
	case '{', '[':
	default:
		return nil
	}
	if !json.Valid([]byte(line)) {
		return nil
	}
	return json.RawMessage(line)
}
