package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// Reply is one scripted model answer
type Reply struct {
	Text string
	// Chunks, when set, are streamed instead of Text
	Chunks         []string
	ToolCalls      []llms.ToolCall
	GenerationInfo map[string]any
	Err            error
	// Block makes the call wait until its context is cancelled
	Block bool
	// Teardown delays the return of a blocked call after cancellation
	Teardown time.Duration
	// Delay holds the reply back, unless the context ends first
	Delay time.Duration
}

// FakeLLM implements llms.Model with scripted replies
type FakeLLM struct {
	mu           sync.Mutex
	replies      []Reply
	currentIndex int
	callCount    int
	lastMessages []llms.MessageContent
	lastOptions  llms.CallOptions
}

var _ llms.Model = (*FakeLLM)(nil)

// NewFakeLLM creates a fake answering with texts in order, cycling
func NewFakeLLM(texts ...string) *FakeLLM {
	f := &FakeLLM{}
	for _, t := range texts {
		f.replies = append(f.replies, Reply{Text: t})
	}
	return f
}

// AddReply appends a scripted reply
func (f *FakeLLM) AddReply(r Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, r)
}

// Call implements the single-prompt interface
func (f *FakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

// GenerateContent streams the next reply through the streaming func, if one
// is set, and returns it
func (f *FakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	f.mu.Lock()
	f.callCount++
	f.lastMessages = messages
	f.lastOptions = opts
	if len(f.replies) == 0 {
		f.mu.Unlock()
		return nil, errors.New("no replies configured")
	}
	reply := f.replies[f.currentIndex]
	f.currentIndex = (f.currentIndex + 1) % len(f.replies)
	f.mu.Unlock()

	if reply.Block {
		<-ctx.Done()
		time.Sleep(reply.Teardown)
		return nil, ctx.Err()
	}
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	chunks := reply.Chunks
	if len(chunks) == 0 && reply.Text != "" {
		chunks = []string{reply.Text}
	}
	if opts.StreamingFunc != nil {
		for _, c := range chunks {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, fmt.Errorf("streaming func: %w", err)
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        strings.Join(chunks, ""),
			ToolCalls:      reply.ToolCalls,
			GenerationInfo: reply.GenerationInfo,
		}},
	}, nil
}

// CallCount returns the number of generate calls
func (f *FakeLLM) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

// LastMessages returns the messages of the latest call
func (f *FakeLLM) LastMessages() []llms.MessageContent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMessages
}

// LastOptions returns the resolved options of the latest call
func (f *FakeLLM) LastOptions() llms.CallOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOptions
}
