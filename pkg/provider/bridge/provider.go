package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/stream"
)

var (
	// ErrNoCommand is returned when the bridge has nothing to run
	ErrNoCommand = errors.New("bridge command not configured")
	// ErrBusy is returned when a turn is already running
	ErrBusy = errors.New("bridge turn already running")
)

// exitGrace is how long a process may linger after its terminal event
const exitGrace = 5 * time.Second

// Config describes the process spoken to
type Config struct {
	Command string
	Args    []string
	WorkDir string
	Env     []string
}

// request is the first line written to the process
type request struct {
	Type           string                  `json:"type"`
	SessionID      string                  `json:"session_id,omitempty"`
	Model          string                  `json:"model,omitempty"`
	MaxTokens      int                     `json:"max_tokens,omitempty"`
	SystemPrompt   string                  `json:"system_prompt,omitempty"`
	PermissionMode provider.PermissionMode `json:"permission_mode,omitempty"`
	Streaming      bool                    `json:"streaming"`
	Messages       []content.Message       `json:"messages"`
}

// permissionResponse answers exactly one permission_request
type permissionResponse struct {
	Type    string         `json:"type"`
	Allowed bool           `json:"allowed"`
	Reason  string         `json:"reason,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// process is one running turn
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	mu     sync.Mutex
	killed bool
}

func (p *process) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return io.ErrClosedPipe
	}
	_, err = p.stdin.Write(append(b, '\n'))
	return err
}

func (p *process) closeStdin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}
}

func (p *process) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.killed && p.cmd.Process != nil {
		p.killed = true
		p.cmd.Process.Kill()
	}
}

func (p *process) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Provider runs one process per turn and speaks NDJSON with it: the request
// goes out as a single line on stdin, events come back on stdout, and
// permission responses are written to stdin while the turn runs.
type Provider struct {
	cfg Config
	log *logger.Logger

	mu        sync.Mutex
	active    *process
	sessionID string
	resumeID  string
}

// New creates a bridge provider
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg, log: logger.WithComponent("bridge")}
}

// SendMessage starts the process and streams its events
func (p *Provider) SendMessage(ctx context.Context, req provider.Request) (<-chan stream.Event, error) {
	if p.cfg.Command == "" {
		return nil, ErrNoCommand
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		return nil, ErrBusy
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.cfg.WorkDir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.cfg.Command, err)
	}
	p.log.Debug("Started %s (pid %d)", p.cfg.Command, cmd.Process.Pid)

	proc := &process{cmd: cmd, stdin: stdin}
	line := request{
		Type:           "request",
		SessionID:      p.sessionIDLocked(),
		Model:          req.Model,
		MaxTokens:      req.MaxTokens,
		SystemPrompt:   req.SystemPrompt,
		PermissionMode: req.PermissionMode,
		Streaming:      req.Streaming,
		Messages:       req.History,
	}
	if err := proc.write(line); err != nil {
		proc.kill()
		cmd.Wait()
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	p.active = proc
	em := stream.NewEmitter(ctx, 64)
	go p.drainStderr(stderr)
	go p.read(ctx, proc, stdout, em)
	return em.Events(), nil
}

func (p *Provider) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		p.log.Debug("stderr: %s", sc.Text())
	}
}

// read owns the emitter. It forwards events until the terminal one, then
// keeps draining stdout so the process can exit before Wait. The provider
// is released before the terminal event goes out, so the next turn can
// start while this process is still being reaped.
func (p *Provider) read(ctx context.Context, proc *process, stdout io.Reader, em *stream.Emitter) {
	defer em.Close()
	defer p.release(proc)

	dec := NewDecoder(stdout)
	terminal := false
	delivering := true
	var grace *time.Timer

	for {
		ev, err := dec.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("Reading events: %v", err)
			}
			break
		}
		if terminal {
			p.log.Debug("Dropping %s after terminal event", ev.Kind())
			continue
		}
		if start, ok := ev.(stream.StreamStart); ok && start.SessionID != "" {
			p.mu.Lock()
			p.sessionID = start.SessionID
			p.mu.Unlock()
		}
		end := stream.IsTerminal(ev)
		if end {
			p.release(proc)
		}
		if delivering && em.Emit(ev) != nil {
			// consumer is gone; keep reading so the process is reaped
			delivering = false
			proc.kill()
		}
		if end {
			terminal = true
			proc.closeStdin()
			grace = time.AfterFunc(exitGrace, proc.kill)
		}
	}

	err := proc.cmd.Wait()
	if grace != nil {
		grace.Stop()
	}
	proc.closeStdin()

	if terminal || proc.wasKilled() || ctx.Err() != nil {
		return
	}
	p.release(proc)
	if err != nil {
		p.log.Warn("Bridge process failed: %v", err)
		em.Emit(stream.Error{Message: fmt.Sprintf("bridge process exited: %v", err), Code: "process_exit"})
	}
}

func (p *Provider) release(proc *process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == proc {
		p.active = nil
	}
}

func (p *Provider) current() (*process, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return nil, provider.ErrNoActiveStream
	}
	return p.active, nil
}

// Abort kills the running process and frees the provider for the next
// turn. Its stdout closes and the event channel follows.
func (p *Provider) Abort() error {
	proc, err := p.current()
	if err != nil {
		return err
	}
	p.log.Info("Aborting bridge process")
	proc.kill()
	p.release(proc)
	return nil
}

// SendPermissionResponse answers the pending permission request
func (p *Provider) SendPermissionResponse(_ context.Context, allowed bool, reason string) error {
	proc, err := p.current()
	if err != nil {
		return err
	}
	return proc.write(permissionResponse{Type: "permission_response", Allowed: allowed, Reason: reason})
}

// SendPermissionResponseWithInput answers with a payload such as question answers
func (p *Provider) SendPermissionResponseWithInput(_ context.Context, allowed bool, payload map[string]any) error {
	proc, err := p.current()
	if err != nil {
		return err
	}
	return proc.write(permissionResponse{Type: "permission_response", Allowed: allowed, Input: payload})
}

// ResetSession forgets the current and resumed session
func (p *Provider) ResetSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = ""
	p.resumeID = ""
}

// SetResumeSessionID makes the next request continue id
func (p *Provider) SetResumeSessionID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = ""
	p.resumeID = id
}

// SessionID returns the session the process reported, or the one being resumed
func (p *Provider) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionIDLocked()
}

func (p *Provider) sessionIDLocked() string {
	if p.sessionID != "" {
		return p.sessionID
	}
	return p.resumeID
}

var _ provider.Provider = (*Provider)(nil)
