package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textOf(events []Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == KindText {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func feedAll(d *Decoder, input string) []Event {
	events := d.Feed(input)
	return append(events, d.Flush()...)
}

const deltaStream = `{"type":"system","session_id":"sess-abc"}
{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"Hello"}}}
{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":", world"}}}
{"type":"stream_event","event":{"type":"message_stop"}}
{"type":"assistant","message":{"content":[{"type":"text","text":"Hello, world"}]}}
{"type":"result","result":"Hello, world"}
`

func TestFeed_TextDeltas(t *testing.T) {
	d := NewDecoder()
	events := feedAll(d, deltaStream)

	assert.Equal(t, "Hello, world", textOf(events))
}

func TestFeed_SessionIDAnnounced(t *testing.T) {
	d := NewDecoder()
	events := feedAll(d, deltaStream)

	var ids []string
	for _, ev := range events {
		if ev.Kind == KindSessionID {
			ids = append(ids, ev.SessionID)
		}
	}
	require.Equal(t, []string{"sess-abc"}, ids)
}

func TestFeed_MessageStop(t *testing.T) {
	d := NewDecoder()
	events := feedAll(d, deltaStream)

	complete := 0
	for _, ev := range events {
		if ev.Kind == KindComplete {
			complete++
		}
	}
	assert.Equal(t, 1, complete)
}

// The decoder must produce identical output no matter where chunk
// boundaries fall, including mid-line and mid-rune positions.
func TestFeed_ChunkSplitInvariance(t *testing.T) {
	d := NewDecoder()
	want := textOf(feedAll(d, deltaStream))

	for split := 0; split <= len(deltaStream); split++ {
		d := NewDecoder()
		events := d.Feed(deltaStream[:split])
		events = append(events, d.Feed(deltaStream[split:])...)
		events = append(events, d.Flush()...)

		if got := textOf(events); got != want {
			t.Fatalf("split at %d: got %q, want %q", split, got, want)
		}
	}
}

func TestFeed_PartialLineRetained(t *testing.T) {
	d := NewDecoder()

	events := d.Feed(`{"type":"stream_event","event":{"type":"content_`)
	assert.Empty(t, events)

	events = d.Feed(`block_delta","delta":{"type":"text_delta","text":"hi"}}}` + "\n")
	assert.Equal(t, "hi", textOf(events))
}

func TestFlush_DecodesUnterminatedFinalLine(t *testing.T) {
	d := NewDecoder()

	require.Empty(t, d.Feed(`{"type":"result","result":"answer"}`))
	events := d.Flush()
	assert.Equal(t, "answer", textOf(events))
}

// When deltas streamed the answer, the assistant and result records
// repeat it and must be suppressed.
func TestPrecedence_DeltasSuppressAssistantAndResult(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"once"}}}
{"type":"assistant","message":{"content":[{"type":"text","text":"once"}]}}
{"type":"result","result":"once"}
`
	assert.Equal(t, "once", textOf(feedAll(d, input)))
}

func TestPrecedence_AssistantSuppressesResult(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"full answer"}]}}
{"type":"result","result":"full answer"}
`
	assert.Equal(t, "full answer", textOf(feedAll(d, input)))
}

func TestPrecedence_ResultAloneEmits(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"result","result":"only here"}` + "\n"

	assert.Equal(t, "only here", textOf(feedAll(d, input)))
}

func TestPrecedence_SecondAssistantSuppressed(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"assistant","message":{"content":[{"type":"text","text":"first"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"second"}]}}
`
	assert.Equal(t, "first", textOf(feedAll(d, input)))
}

// Assistant records carrying only tool calls have no answer text and
// must not count as the answer.
func TestAssistant_ToolUseOnlyDoesNotSuppressLaterText(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1"}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"the answer"}]}}
`
	assert.Equal(t, "the answer", textOf(feedAll(d, input)))
}

func TestStreamEvent_NonTextDeltasSuppressed(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{\"arg\""}}}
{"type":"result","result":"answer"}
`
	// The tool-call delta neither emits nor trips the delta flag.
	assert.Equal(t, "answer", textOf(feedAll(d, input)))
}

func TestDecodeLine_PlainDiagnosticPassthrough(t *testing.T) {
	d := NewDecoder()
	events := d.Feed("claude v1.2.3 starting up\n")

	require.Len(t, events, 1)
	assert.Equal(t, KindText, events[0].Kind)
	assert.Equal(t, "claude v1.2.3 starting up\n", events[0].Text)
}

func TestDecodeLine_ErrorRecord(t *testing.T) {
	d := NewDecoder()
	events := d.Feed(`{"type":"error","error":{"message":"overloaded"}}` + "\n")

	require.Len(t, events, 1)
	assert.Equal(t, KindError, events[0].Kind)
	assert.JSONEq(t, `{"message":"overloaded"}`, string(events[0].Payload))
}

func TestDecodeLine_UnknownAndUntypedRecordsIgnored(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"user","message":{"content":[{"type":"text","text":"echo"}]}}
{"some":"object"}
{"type":"result","result":"kept"}
`
	assert.Equal(t, "kept", textOf(feedAll(d, input)))
}

func TestDecodeLine_BlankLinesIgnored(t *testing.T) {
	d := NewDecoder()
	events := feedAll(d, "\n\n  \n")
	assert.Empty(t, events)
}

func TestFeed_EmptyDeltaTextSkipped(t *testing.T) {
	d := NewDecoder()
	input := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":""}}}` + "\n"

	events := feedAll(d, input)
	assert.Empty(t, textOf(events))

	// The empty delta still claims the answer for the delta channel.
	events = feedAll(d, `{"type":"result","result":"late"}`+"\n")
	assert.Empty(t, textOf(events))
}
