package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/stream"
)

// maxLineSize bounds one NDJSON line. Tool results can carry whole files.
const maxLineSize = 4 * 1024 * 1024

// ErrMalformedLine is returned for a line that is not a JSON object with a type
var ErrMalformedLine = errors.New("malformed line")

// UnknownTypeError is returned for a well-formed line of a type this side does not know
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Type)
}

// wireEvent is the flat JSON shape every event is framed in. Fields unused by
// an event type are omitted.
type wireEvent struct {
	Type                string         `json:"type"`
	Text                string         `json:"text,omitempty"`
	ID                  string         `json:"id,omitempty"`
	Name                string         `json:"name,omitempty"`
	Input               map[string]any `json:"input,omitempty"`
	ToolUseID           string         `json:"tool_use_id,omitempty"`
	ToolName            string         `json:"tool_name,omitempty"`
	Content             string         `json:"content,omitempty"`
	IsError             bool           `json:"is_error,omitempty"`
	InputTokens         int            `json:"input_tokens,omitempty"`
	OutputTokens        int            `json:"output_tokens,omitempty"`
	CacheCreationTokens int            `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int            `json:"cache_read_input_tokens,omitempty"`
	Message             string         `json:"message,omitempty"`
	Code                string         `json:"code,omitempty"`
	SessionID           string         `json:"session_id,omitempty"`
	Model               string         `json:"model,omitempty"`
}

// Encode frames one event as a single JSON line without the trailing newline
func Encode(ev stream.Event) ([]byte, error) {
	w := wireEvent{Type: string(ev.Kind())}

	switch e := ev.(type) {
	case stream.TextDelta:
		w.Text = e.Text
	case stream.ThinkingDelta:
		w.Text = e.Text
	case stream.TextSnapshot:
		w.Text = e.Text
	case stream.ThinkingSnapshot:
		w.Text = e.Text
	case stream.ToolUse:
		w.ID, w.Name, w.Input = e.ID, e.Name, e.Input
	case stream.ToolResult:
		w.ToolUseID, w.Content, w.IsError = e.ToolUseID, e.Content, e.IsError
	case stream.Usage:
		w.InputTokens = e.InputTokens
		w.OutputTokens = e.OutputTokens
		w.CacheCreationTokens = e.CacheCreationTokens
		w.CacheReadTokens = e.CacheReadTokens
	case stream.PermissionRequest:
		w.ToolName, w.ToolUseID, w.Input = e.ToolName, e.ToolUseID, e.Input
	case stream.Error:
		w.Message, w.Code = e.Message, e.Code
	case stream.PlanModeExit:
		w.Input = e.Input
	case stream.StreamStart:
		w.SessionID, w.Model = e.SessionID, e.Model
	case stream.PlanModeEnter, stream.StreamEnd, stream.MessageStop:
	default:
		return nil, &UnknownTypeError{Type: string(ev.Kind())}
	}

	return json.Marshal(w)
}

// Decode parses one line into an event
func Decode(line []byte) (stream.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if w.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedLine)
	}

	switch stream.Kind(w.Type) {
	case stream.KindTextDelta:
		return stream.TextDelta{Text: w.Text}, nil
	case stream.KindThinkingDelta:
		return stream.ThinkingDelta{Text: w.Text}, nil
	case stream.KindTextSnapshot:
		return stream.TextSnapshot{Text: w.Text}, nil
	case stream.KindThinkingSnapshot:
		return stream.ThinkingSnapshot{Text: w.Text}, nil
	case stream.KindToolUse:
		return stream.ToolUse{ID: w.ID, Name: w.Name, Input: w.Input}, nil
	case stream.KindToolResult:
		return stream.ToolResult{ToolUseID: w.ToolUseID, Content: w.Content, IsError: w.IsError}, nil
	case stream.KindUsage:
		return stream.Usage{
			InputTokens:         w.InputTokens,
			OutputTokens:        w.OutputTokens,
			CacheCreationTokens: w.CacheCreationTokens,
			CacheReadTokens:     w.CacheReadTokens,
		}, nil
	case stream.KindPermissionRequest:
		return stream.PermissionRequest{ToolName: w.ToolName, ToolUseID: w.ToolUseID, Input: w.Input}, nil
	case stream.KindError:
		return stream.Error{Message: w.Message, Code: w.Code}, nil
	case stream.KindPlanModeEnter:
		return stream.PlanModeEnter{}, nil
	case stream.KindPlanModeExit:
		return stream.PlanModeExit{Input: w.Input}, nil
	case stream.KindStreamStart:
		return stream.StreamStart{SessionID: w.SessionID, Model: w.Model}, nil
	case stream.KindStreamEnd:
		return stream.StreamEnd{}, nil
	case stream.KindMessageStop:
		return stream.MessageStop{}, nil
	}
	return nil, &UnknownTypeError{Type: w.Type}
}

// Encoder writes events as NDJSON
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes ev followed by a newline
func (e *Encoder) Encode(ev stream.Event) error {
	b, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = e.w.Write(append(b, '\n'))
	return err
}

// Decoder reads events from an NDJSON stream. Blank, malformed and
// unknown-type lines are logged and skipped.
type Decoder struct {
	scanner *bufio.Scanner
	log     *logger.Logger
	line    int
	skipped int
}

// NewDecoder creates a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{scanner: sc, log: logger.WithComponent("bridge_decoder")}
}

// Next returns the next event, or io.EOF when the stream is exhausted
func (d *Decoder) Next() (stream.Event, error) {
	for d.scanner.Scan() {
		d.line++
		raw := d.scanner.Bytes()
		if strings.TrimSpace(string(raw)) == "" {
			continue
		}

		ev, err := Decode(raw)
		if err == nil {
			return ev, nil
		}

		var unknown *UnknownTypeError
		if errors.As(err, &unknown) {
			d.log.Debug("Skipping line %d: %v", d.line, err)
		} else {
			d.log.Warn("Skipping line %d: %v", d.line, err)
		}
		d.skipped++
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Skipped returns how many lines were dropped so far
func (d *Decoder) Skipped() int {
	return d.skipped
}

// ReadAll decodes every event in r
func ReadAll(r io.Reader) ([]stream.Event, error) {
	d := NewDecoder(r)
	var events []stream.Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
