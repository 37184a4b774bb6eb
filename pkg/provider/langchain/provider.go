package langchain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/stream"
	"github.com/killallgit/relay/pkg/tokens"
)

// ErrBusy is returned when a turn is already running
var ErrBusy = errors.New("langchain turn already running")

const defaultTimeout = 60 * time.Second

// Provider adapts a langchaingo model to the provider contract. One call to
// GenerateContent is one turn; the backend has no permission channel.
type Provider struct {
	llm     llms.Model
	model   string
	counter *tokens.Counter
	log     *logger.Logger

	mu        sync.Mutex
	active    *turn
	sessionID string
}

// turn is one running generation
type turn struct {
	cancel context.CancelFunc
}

// Option configures a Provider
type Option func(*Provider)

// WithModelName names the model in stream_start and picks the token encoding
func WithModelName(name string) Option {
	return func(p *Provider) { p.model = name }
}

// WithCounter sets the counter used when the backend reports no usage
func WithCounter(c *tokens.Counter) Option {
	return func(p *Provider) { p.counter = c }
}

// New wraps llm
func New(llm llms.Model, opts ...Option) *Provider {
	p := &Provider{llm: llm, log: logger.WithComponent("langchain_provider")}
	for _, opt := range opts {
		opt(p)
	}
	if p.counter == nil {
		p.counter = tokens.NewCounter(p.model)
	}
	return p
}

// NewFromConfig builds an ollama or openai backed provider
func NewFromConfig(cfg *config.Config) (*Provider, error) {
	model := cfg.ResolvedModel()

	switch cfg.Provider {
	case "", "ollama":
		opts := []ollama.Option{
			ollama.WithHTTPClient(httpClient(cfg.Ollama.Timeout)),
		}
		if cfg.Ollama.URL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.Ollama.URL))
		}
		if model != "" {
			opts = append(opts, ollama.WithModel(model))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama LLM: %w", err)
		}
		return New(llm, WithModelName(model)), nil

	case "openai":
		opts := []openai.Option{
			openai.WithHTTPClient(httpClient(cfg.OpenAI.Timeout)),
		}
		if cfg.OpenAI.APIKey != "" {
			opts = append(opts, openai.WithToken(cfg.OpenAI.APIKey))
		}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if model != "" {
			opts = append(opts, openai.WithModel(model))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI LLM: %w", err)
		}
		return New(llm, WithModelName(model)), nil
	}
	return nil, fmt.Errorf("provider %q is not backed by langchaingo", cfg.Provider)
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// SendMessage runs one generation and streams it as events
func (p *Provider) SendMessage(ctx context.Context, req provider.Request) (<-chan stream.Event, error) {
	p.mu.Lock()
	if p.active != nil {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel}
	p.active = t
	if p.sessionID == "" {
		p.sessionID = uuid.New().String()
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	em := stream.NewEmitter(ctx, 64)
	go func() {
		defer em.Close()
		defer p.release(t)
		defer cancel()
		p.generate(ctx, t, req, sessionID, em)
	}()
	return em.Events(), nil
}

// release frees the provider for the next turn if t still holds it
func (p *Provider) release(t *turn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == t {
		p.active = nil
	}
}

// end frees the provider before the terminal event is delivered, so a
// consumer reacting to it can start the next turn at once
func (p *Provider) end(t *turn, em *stream.Emitter, ev stream.Event) error {
	p.release(t)
	return em.Emit(ev)
}

func (p *Provider) generate(ctx context.Context, t *turn, req provider.Request, sessionID string, em *stream.Emitter) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if em.Emit(stream.StreamStart{SessionID: sessionID, Model: model}) != nil {
		return
	}

	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	var split thinkSplitter
	var streamed strings.Builder
	if req.Streaming {
		opts = append(opts, llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed.Write(chunk)
			for _, ev := range split.Feed(string(chunk)) {
				if err := em.Emit(ev); err != nil {
					return err
				}
			}
			return nil
		}))
	}

	resp, err := p.llm.GenerateContent(ctx, Messages(req.SystemPrompt, req.History), opts...)
	if ctx.Err() != nil {
		p.log.Debug("Generation stopped: %v", ctx.Err())
		return
	}
	if err != nil {
		p.log.Error("Generation failed: %v", err)
		p.end(t, em, stream.Error{Message: err.Error(), Code: "generate_failed"})
		return
	}
	if resp == nil || len(resp.Choices) == 0 {
		p.end(t, em, stream.Error{Message: "model returned no choices", Code: "empty_response"})
		return
	}
	choice := resp.Choices[0]

	var events []stream.Event
	if req.Streaming {
		events = append(events, split.Flush()...)
	}
	if !req.Streaming || streamed.String() != choice.Content {
		// nothing streamed, or the final content disagrees with what did
		thinking, answer := SplitThinking(choice.Content)
		if thinking != "" {
			events = append(events, stream.ThinkingSnapshot{Text: thinking})
		}
		events = append(events, stream.TextSnapshot{Text: answer})
	}
	for _, tc := range choice.ToolCalls {
		events = append(events, toolUse(tc))
	}
	events = append(events, p.usage(req, choice), stream.MessageStop{})

	for _, ev := range events {
		if em.Emit(ev) != nil {
			return
		}
	}
	p.end(t, em, stream.StreamEnd{})
}

func toolUse(tc llms.ToolCall) stream.ToolUse {
	id := tc.ID
	if id == "" {
		id = uuid.New().String()
	}
	ev := stream.ToolUse{ID: id}
	if tc.FunctionCall == nil {
		return ev
	}
	ev.Name = tc.FunctionCall.Name

	args := strings.TrimSpace(tc.FunctionCall.Arguments)
	if args == "" {
		return ev
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(args), &input); err != nil {
		input = map[string]any{"arguments": args}
	}
	ev.Input = input
	return ev
}

// usage reads the backend's token counts, or counts locally when absent
func (p *Provider) usage(req provider.Request, choice *llms.ContentChoice) stream.Usage {
	in, okIn := intFrom(choice.GenerationInfo["PromptTokens"])
	out, okOut := intFrom(choice.GenerationInfo["CompletionTokens"])
	if okIn || okOut {
		return stream.Usage{InputTokens: in, OutputTokens: out}
	}

	u := p.counter.Usage(req.SystemPrompt, req.History, choice.Content)
	return stream.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
}

func intFrom(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Messages converts a conversation to langchaingo message content. Tool
// results travel as tool messages after the assistant turn that asked.
func Messages(system string, history []content.Message) []llms.MessageContent {
	var out []llms.MessageContent
	if system != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	for _, m := range history {
		role := llms.ChatMessageTypeHuman
		if m.IsAssistant() {
			role = llms.ChatMessageTypeAI
		}

		var parts []llms.ContentPart
		var results []llms.ContentPart
		for _, b := range m.Content {
			switch v := b.(type) {
			case content.Text:
				parts = append(parts, llms.TextContent{Text: v.Text})
			case content.Code:
				parts = append(parts, llms.TextContent{Text: "```" + v.Language + "\n" + v.Code + "\n```"})
			case content.Image:
				parts = append(parts, llms.ImageURLPart(v.Source))
			case content.ToolUse:
				args, _ := json.Marshal(v.Input)
				parts = append(parts, llms.ToolCall{
					ID:           v.ID,
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: v.Name, Arguments: string(args)},
				})
			case content.ToolResult:
				results = append(results, llms.ToolCallResponse{ToolCallID: v.ToolUseID, Content: v.Content})
			case content.Thinking:
				// reasoning is not replayed to the model
			}
		}

		if len(parts) > 0 {
			out = append(out, llms.MessageContent{Role: role, Parts: parts})
		}
		if len(results) > 0 {
			out = append(out, llms.MessageContent{Role: llms.ChatMessageTypeTool, Parts: results})
		}
	}
	return out
}

// Abort cancels the running generation and frees the provider without
// waiting for the backend call to return
func (p *Provider) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return provider.ErrNoActiveStream
	}
	p.active.cancel()
	p.active = nil
	return nil
}

func (p *Provider) running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// SendPermissionResponse is logged; langchaingo models never ask
func (p *Provider) SendPermissionResponse(_ context.Context, allowed bool, reason string) error {
	if !p.running() {
		return provider.ErrNoActiveStream
	}
	p.log.Info("Permission response allowed=%t reason=%q (no permission channel)", allowed, reason)
	return nil
}

// SendPermissionResponseWithInput is logged; langchaingo models never ask
func (p *Provider) SendPermissionResponseWithInput(_ context.Context, allowed bool, payload map[string]any) error {
	if !p.running() {
		return provider.ErrNoActiveStream
	}
	p.log.Info("Permission response allowed=%t with %d fields (no permission channel)", allowed, len(payload))
	return nil
}

// ResetSession forgets the session id; the next turn gets a new one
func (p *Provider) ResetSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = ""
}

// SetResumeSessionID adopts id for the following turns
func (p *Provider) SetResumeSessionID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = id
}

// SessionID returns the current session id
func (p *Provider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

var _ provider.Provider = (*Provider)(nil)
