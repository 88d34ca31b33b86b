package assistant

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Output is what the loop consumes from one assistant invocation
type Output struct {
	Result       string
	SessionID    string
	InputTokens  int64
	OutputTokens int64
	IsError      bool
	Stderr       string
	raw          []byte
}

// Tokens returns the summed input and output counters
func (o Output) Tokens() int64 {
	in, out := o.InputTokens, o.OutputTokens
	if in < 0 {
		in = 0
	}
	if out < 0 {
		out = 0
	}
	return in + out
}

// ID identifies this output so the same result is never counted twice. A
// resumed session yields a new ID for every new result.
func (o Output) ID() string {
	if len(o.raw) == 0 && o.Result == "" {
		return o.SessionID
	}
	sum := sha256.New()
	sum.Write(o.raw)
	sum.Write([]byte(o.Result))
	digest := hex.EncodeToString(sum.Sum(nil))[:16]
	if o.SessionID != "" {
		return o.SessionID + ":" + digest
	}
	return digest
}

// Text returns everything that may contain an exhaustion marker
func (o Output) Text() []string {
	return []string{o.Result, o.Stderr}
}

type usageCounters struct {
	InputTokens  *int64 `json:"input_tokens"`
	OutputTokens *int64 `json:"output_tokens"`
}

// resultMessage covers both the single JSON result object and the final line
// of a stream-json transcript
type resultMessage struct {
	Type         string         `json:"type"`
	Subtype      string         `json:"subtype,omitempty"`
	Result       *string        `json:"result"`
	Text         *string        `json:"text"`
	SessionID    string         `json:"session_id,omitempty"`
	IsError      bool           `json:"is_error,omitempty"`
	Usage        *usageCounters `json:"usage,omitempty"`
	InputTokens  *int64         `json:"input_tokens"`
	OutputTokens *int64         `json:"output_tokens"`
}

// ParseOutput decodes the assistant's stdout. It accepts a JSON result object,
// a stream-json transcript (the last result line wins) or plain text. Absent
// counters mean zero consumption.
func ParseOutput(stdout []byte) Output {
	trimmed := bytes.TrimSpace(stdout)
	out := Output{raw: trimmed}
	if len(trimmed) == 0 {
		return out
	}

	var msg resultMessage
	if trimmed[0] == '{' && json.Unmarshal(trimmed, &msg) == nil {
		msg.apply(&out)
		return out
	}

	if found := parseStream(trimmed, &out); found {
		return out
	}

	out.Result = string(trimmed)
	return out
}

func parseStream(data []byte, out *Output) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var last *resultMessage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var msg resultMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Type == "result" {
			m := msg
			last = &m
		}
	}
	if last == nil {
		return false
	}
	last.apply(out)
	return true
}

func (m *resultMessage) apply(out *Output) {
	switch {
	case m.Result != nil:
		out.Result = *m.Result
	case m.Text != nil:
		out.Result = *m.Text
	}
	out.SessionID = m.SessionID
	out.IsError = m.IsError

	// Nested usage wins over top-level counters when both are present
	if m.InputTokens != nil {
		out.InputTokens = *m.InputTokens
	}
	if m.OutputTokens != nil {
		out.OutputTokens = *m.OutputTokens
	}
	if m.Usage != nil {
		if m.Usage.InputTokens != nil {
			out.InputTokens = *m.Usage.InputTokens
		}
		if m.Usage.OutputTokens != nil {
			out.OutputTokens = *m.Usage.OutputTokens
		}
	}
}
