package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/timeparse"
)

const (
	claudeCols        = 140
	claudeRows        = 40
	claudeBufferLimit = 600_000
	claudeDebugLines  = 50

	defaultBashExe = "C:/Program Files/Git/usr/bin/bash.exe"
)

const claudeHint = "run `claude` and verify /usage is available and you are logged in"

// Terminal is an interactive child process attached to a pseudo-terminal.
type Terminal interface {
	io.ReadWriter
	// Pid returns the child's process id, or 0 when unknown.
	Pid() int
	// Wait blocks until the child exits.
	Wait() error
	// Close releases the terminal. Reads return EOF afterwards.
	Close() error
}

// SpawnFunc starts argv attached to a new terminal.
type SpawnFunc func(ctx context.Context, argv []string) (Terminal, error)

// ClaudeOptions configures the Claude terminal strategy. Zero values take defaults.
type ClaudeOptions struct {
	Command string // Executable or command line, default "claude"
	BashExe string // Shell used on Windows

	Timeout       time.Duration
	PollInterval  time.Duration
	UsageDelay    time.Duration // Delay before typing /usage
	EnterDelay    time.Duration // Delay before submitting it
	ExitStepDelay time.Duration // Pause between shutdown keystrokes
	KillDelay     time.Duration // Grace period before the process tree is killed

	Spawn  SpawnFunc
	Now    func() time.Time
	Zone   func() string
	Logger *slog.Logger
}

func (o ClaudeOptions) withDefaults() ClaudeOptions {
	if o.Command == "" {
		o.Command = "claude"
	}
	if o.BashExe == "" {
		o.BashExe = defaultBashExe
	}
	if o.Timeout <= 0 {
		o.Timeout = 25 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 300 * time.Millisecond
	}
	if o.UsageDelay <= 0 {
		o.UsageDelay = 2500 * time.Millisecond
	}
	if o.EnterDelay <= 0 {
		o.EnterDelay = 4 * time.Second
	}
	if o.ExitStepDelay <= 0 {
		o.ExitStepDelay = 300 * time.Millisecond
	}
	if o.KillDelay <= 0 {
		o.KillDelay = 800 * time.Millisecond
	}
	if o.Spawn == nil {
		o.Spawn = startPTY
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Zone == nil {
		o.Zone = timeparse.LocalZoneName
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Claude scrapes the /usage screen of the interactive claude CLI.
type Claude struct {
	opts ClaudeOptions
}

// NewClaude creates the Claude terminal strategy.
func NewClaude(opts ClaudeOptions) *Claude {
	return &Claude{opts: opts.withDefaults()}
}

func (c *Claude) ID() model.SourceID { return model.SourceClaude }

func (c *Claude) argv() []string {
	if runtime.GOOS == "windows" {
		return []string{c.opts.BashExe, "-lc", c.opts.Command}
	}
	return strings.Fields(c.opts.Command)
}

type finishReason string

const (
	finishParsed   finishReason = "parsed"
	finishTimeout  finishReason = "timeout"
	finishExited   finishReason = "exited"
	finishCanceled finishReason = "canceled"
)

// Acquire runs one /usage session. The child is always terminated before it returns.
func (c *Claude) Acquire(ctx context.Context, opts AcquireOptions) Result {
	log := c.opts.Logger.With("provider", model.SourceClaude)

	argv := c.argv()
	term, err := c.opts.Spawn(ctx, argv)
	if err != nil {
		kind := model.ErrTTYUnavailable
		if isMissingBinary(err) {
			kind = model.ErrNotInstalled
		}
		log.Debug("spawn failed", "command", argv, "error", err)
		return failure(model.SourceClaude, kind, fmt.Sprintf("start claude: %v", err), claudeHint)
	}

	buf := newTailBuffer(claudeBufferLimit)
	readDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(buf, term)
		close(readDone)
	}()
	exited := make(chan struct{})
	go func() {
		_ = term.Wait()
		close(exited)
	}()

	reason := c.drive(ctx, term, buf, exited)
	log.Debug("claude session finished", "reason", reason)

	c.shutdown(term, exited)
	select {
	case <-readDone:
	case <-time.After(c.opts.ExitStepDelay):
	}

	text := CleanScreenText(buf.String())
	zone := c.opts.Zone()
	parsed := ParseUsageScreen(text, c.opts.Now(), zone)

	res := c.result(reason, text, parsed)
	if opts.Debug {
		res.Debug = map[string]any{
			"reason":         string(reason),
			"systemTimeZone": zone,
			"matchedLines":   matchedScreenLines(text, claudeDebugLines),
		}
	}
	return res
}

func (c *Claude) drive(ctx context.Context, term Terminal, buf *tailBuffer, exited <-chan struct{}) finishReason {
	timeout := time.NewTimer(c.opts.Timeout)
	defer timeout.Stop()
	usage := time.NewTimer(c.opts.UsageDelay)
	defer usage.Stop()
	enter := time.NewTimer(c.opts.EnterDelay)
	defer enter.Stop()
	poll := time.NewTicker(c.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return finishCanceled
		case <-timeout.C:
			return finishTimeout
		case <-exited:
			return finishExited
		case <-usage.C:
			_, _ = term.Write([]byte("/usage"))
		case <-enter.C:
			_, _ = term.Write([]byte("\r"))
		case <-poll.C:
			p := ParseUsageScreen(CleanScreenText(buf.String()), c.opts.Now(), c.opts.Zone())
			if p.Complete() {
				return finishParsed
			}
		}
	}
}

// shutdown asks the application to exit, then kills whatever is left.
func (c *Claude) shutdown(term Terminal, exited <-chan struct{}) {
	steps := []struct {
		input string
		wait  time.Duration
	}{
		{"\x1b", c.opts.ExitStepDelay},
		{"/exit", c.opts.ExitStepDelay},
		{"\r", c.opts.KillDelay},
	}
	for _, s := range steps {
		select {
		case <-exited:
		default:
			_, _ = term.Write([]byte(s.input))
		}
		select {
		case <-exited:
		case <-time.After(s.wait):
		}
	}

	if err := killTree(term.Pid()); err != nil {
		c.opts.Logger.Debug("kill claude", "error", err)
	}
	_ = term.Close()
	select {
	case <-exited:
	case <-time.After(c.opts.KillDelay):
	}
}

func (c *Claude) result(reason finishReason, text string, parsed ScreenParse) Result {
	switch reason {
	case finishParsed:
		return Result{Rows: parsed.Rows}
	case finishTimeout:
		res := failure(model.SourceClaude, model.ErrTimeout,
			fmt.Sprintf("claude /usage timed out after %s", c.opts.Timeout), claudeHint)
		res.Rows = parsed.Rows
		return res
	case finishCanceled:
		res := failure(model.SourceClaude, model.ErrAcquireFailed, "acquisition canceled", "")
		res.Rows = parsed.Rows
		return res
	}

	if len(parsed.Rows) == 0 && mentionsMissingBinary(text) {
		return failure(model.SourceClaude, model.ErrNotInstalled,
			"claude exited: "+redact(lastLine(text)), "install `claude` and ensure it is on PATH")
	}
	if len(parsed.Rows) > 0 && !parsed.Complete() {
		res := failure(model.SourceClaude, model.ErrParseFailed,
			"claude exited before /usage showed "+strings.Join(parsed.Missing(), ", "), claudeHint)
		res.Rows = parsed.Rows
		return res
	}
	return Result{Rows: parsed.Rows, Errors: parsed.Errors}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

type ptyTerminal struct {
	cmd *exec.Cmd
	f   *os.File
}

func startPTY(_ context.Context, argv []string) (Terminal, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("start terminal: empty command")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM=xterm-color")
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: claudeCols, Rows: claudeRows})
	if err != nil {
		return nil, err
	}
	return &ptyTerminal{cmd: cmd, f: f}, nil
}

func (t *ptyTerminal) Read(p []byte) (int, error)  { return t.f.Read(p) }
func (t *ptyTerminal) Write(p []byte) (int, error) { return t.f.Write(p) }
func (t *ptyTerminal) Wait() error                 { return t.cmd.Wait() }
func (t *ptyTerminal) Close() error                { return t.f.Close() }

func (t *ptyTerminal) Pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}
