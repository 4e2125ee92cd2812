// Package protocol decodes the claude CLI's stream-json output: one
// self-describing JSON record per line, interleaved with occasional
// plain diagnostic lines.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomasky/ccbridge/internal/core/logging"
)

// Kind classifies a decoded event.
type Kind int

const (
	// KindText carries a fragment of assistant-generated text.
	KindText Kind = iota
	// KindSessionID announces the external session id for this run.
	KindSessionID
	// KindComplete marks the end of a streamed message.
	KindComplete
	// KindError carries an error record's payload.
	KindError
)

// Event is one semantic event produced from the raw byte stream.
type Event struct {
	Kind      Kind
	Text      string          // KindText
	SessionID string          // KindSessionID
	Payload   json.RawMessage // KindError
}

// Decoder turns raw output chunks into classified events. It buffers
// partial lines across Feed calls and carries two sticky flags that
// enforce the answer-exactly-once rule: the protocol can report the
// same answer as incremental deltas, as a complete assistant message,
// and again inside the final result record. Precedence is
// delta > assistant > result, first match wins per stream.
type Decoder struct {
	buf strings.Builder

	textDeltaSeen bool // a text_delta fragment was emitted
	assistantSeen bool // an assistant message record was observed

	log zerolog.Logger
}

// NewDecoder creates a decoder for a single subprocess stream.
func NewDecoder() *Decoder {
	return &Decoder{log: logging.With("protocol")}
}

// Feed appends a chunk and returns the events for every complete line
// it now holds. A trailing partial line is retained for the next call.
func (d *Decoder) Feed(chunk string) []Event {
	d.buf.WriteString(chunk)
	data := d.buf.String()

	idx := strings.LastIndexByte(data, '\n')
	if idx < 0 {
		return nil
	}
	complete := data[:idx]
	d.buf.Reset()
	d.buf.WriteString(data[idx+1:])

	var events []Event
	for _, line := range strings.Split(complete, "\n") {
		events = append(events, d.decodeLine(line)...)
	}
	return events
}

// Flush decodes any retained partial line. Call once at end of stream.
func (d *Decoder) Flush() []Event {
	rest := d.buf.String()
	d.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	return d.decodeLine(rest)
}

// record is one line of the structured protocol, discriminated by Type.
type record struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Event     *streamEvent    `json:"event,omitempty"`
	Message   *innerMessage   `json:"message,omitempty"`
	Result    string          `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
}

type streamEvent struct {
	Type  string      `json:"type"`
	Delta *eventDelta `json:"delta,omitempty"`
}

type eventDelta struct {
	Type string `json:"type"` // "text_delta", "input_json_delta", ...
	Text string `json:"text,omitempty"`
}

type innerMessage struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (d *Decoder) decodeLine(line string) []Event {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	var rec record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		// The claude process is allowed to print plain diagnostic lines
		// outside the structured protocol; pass them through verbatim.
		return []Event{{Kind: KindText, Text: line + "\n"}}
	}

	switch rec.Type {
	case "system":
		if rec.SessionID != "" {
			return []Event{{Kind: KindSessionID, SessionID: rec.SessionID}}
		}
		return nil

	case "stream_event":
		return d.decodeStreamEvent(rec.Event)

	case "assistant":
		return d.decodeAssistant(rec.Message)

	case "result":
		// Covers runs that never produced deltas or an assistant record.
		if d.textDeltaSeen || d.assistantSeen {
			return nil
		}
		d.assistantSeen = true
		if rec.Result == "" {
			return nil
		}
		return []Event{{Kind: KindText, Text: rec.Result}}

	case "error":
		return []Event{{Kind: KindError, Payload: rec.Error}}

	case "":
		d.log.Debug().Str("line", truncate(trimmed, 200)).Msg("record without type discriminant")
		return nil

	default:
		d.log.Debug().Str("type", rec.Type).Msg("unrecognized record type")
		return nil
	}
}

func (d *Decoder) decodeStreamEvent(ev *streamEvent) []Event {
	if ev == nil {
		return nil
	}
	switch ev.Type {
	case "content_block_delta":
		if ev.Delta == nil || ev.Delta.Type != "text_delta" {
			// Tool-call fragments and other delta kinds are suppressed.
			return nil
		}
		d.textDeltaSeen = true
		if ev.Delta.Text == "" {
			return nil
		}
		return []Event{{Kind: KindText, Text: ev.Delta.Text}}
	case "message_stop":
		return []Event{{Kind: KindComplete}}
	default:
		return nil
	}
}

func (d *Decoder) decodeAssistant(msg *innerMessage) []Event {
	if msg == nil {
		return nil
	}
	hasText := false
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			hasText = true
			break
		}
	}
	if !hasText {
		// Tool-use-only assistant records carry no answer text and must
		// not trip the first-text-record flag.
		return nil
	}

	emit := !d.textDeltaSeen && !d.assistantSeen
	// Mark the record as seen either way so a later result record never
	// repeats an answer the deltas already carried.
	d.assistantSeen = true
	if !emit {
		return nil
	}

	var events []Event
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			events = append(events, Event{Kind: KindText, Text: block.Text})
		}
	}
	return events
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
