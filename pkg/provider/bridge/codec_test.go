package bridge

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/relay/pkg/stream"
)

func TestEveryKindIsFramed(t *testing.T) {
	for _, ev := range stream.Samples() {
		b, err := Encode(ev)
		require.NoError(t, err, ev.Kind())
		assert.Contains(t, string(b), `"type":"`+string(ev.Kind())+`"`)

		back, err := Decode(b)
		require.NoError(t, err, ev.Kind())
		assert.Equal(t, ev.Kind(), back.Kind())
	}
}

func TestDecodeFields(t *testing.T) {
	tests := []struct {
		name string
		line string
		want stream.Event
	}{
		{
			name: "tool use",
			line: `{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}`,
			want: stream.ToolUse{ID: "t1", Name: "Bash", Input: map[string]any{"command": "ls"}},
		},
		{
			name: "error result",
			line: `{"type":"tool_result","tool_use_id":"t1","content":"boom","is_error":true}`,
			want: stream.ToolResult{ToolUseID: "t1", Content: "boom", IsError: true},
		},
		{
			name: "usage with cache",
			line: `{"type":"usage","input_tokens":3,"output_tokens":4,"cache_creation_input_tokens":5,"cache_read_input_tokens":6}`,
			want: stream.Usage{InputTokens: 3, OutputTokens: 4, CacheCreationTokens: 5, CacheReadTokens: 6},
		},
		{
			name: "error",
			line: `{"type":"error","message":"overloaded","code":"529"}`,
			want: stream.Error{Message: "overloaded", Code: "529"},
		},
		{
			name: "stream start",
			line: `{"type":"stream_start","session_id":"s1","model":"m"}`,
			want: stream.StreamStart{SessionID: "s1", Model: "m"},
		},
		{
			name: "extra fields ignored",
			line: `{"type":"text_delta","text":"hi","index":3}`,
			want: stream.TextDelta{Text: "hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"nope"}`))
	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Type)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedLine)

	_, err = Decode([]byte(`{"text":"no type"}`))
	assert.ErrorIs(t, err, ErrMalformedLine)

	_, err = Decode([]byte(`["type","text_delta"]`))
	assert.ErrorIs(t, err, ErrMalformedLine)
}

func TestEncoderWritesLines(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(stream.TextDelta{Text: "a\nb"}))
	require.NoError(t, enc.Encode(stream.StreamEnd{}))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"type":"text_delta","text":"a\nb"}`, lines[0])
	assert.Equal(t, `{"type":"stream_end"}`, lines[1])
}

func TestDecoderSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"text_delta","text":"one"}`,
		``,
		`garbage`,
		`{"type":"brand_new"}`,
		`{"type":"text_delta","text":"two"}`,
	}, "\n")

	dec := NewDecoder(strings.NewReader(input))
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.TextDelta{Text: "one"}, ev)

	ev, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, stream.TextDelta{Text: "two"}, ev)
	assert.Equal(t, 2, dec.Skipped())

	_, err = dec.Next()
	assert.True(t, errors.Is(err, io.EOF))
}

func TestDecoderLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	dec := NewDecoder(strings.NewReader(`{"type":"tool_result","tool_use_id":"t","content":"` + long + `"}`))
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Len(t, ev.(stream.ToolResult).Content, len(long))
}

func TestReadAllRecording(t *testing.T) {
	f, err := os.Open("testdata/two_turns.ndjson")
	require.NoError(t, err)
	defer f.Close()

	events, err := ReadAll(f)
	require.NoError(t, err)
	require.Len(t, events, 14)
	assert.Equal(t, stream.StreamStart{SessionID: "rec-1", Model: "sonnet"}, events[0])

	turns := SplitTurns(events)
	require.Len(t, turns, 2)
	assert.Len(t, turns[0], 11)
	assert.Equal(t, stream.TextDelta{Text: "Second turn."}, turns[1][1])
}

func TestSplitTurnsKeepsTail(t *testing.T) {
	turns := SplitTurns([]stream.Event{
		stream.TextDelta{Text: "a"},
		stream.Error{Message: "x"},
		stream.TextDelta{Text: "b"},
	})
	require.Len(t, turns, 2)
	assert.Equal(t, []stream.Event{stream.TextDelta{Text: "b"}}, turns[1])
	assert.Empty(t, SplitTurns(nil))
}
