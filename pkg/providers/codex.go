package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/timeparse"
)

const (
	codexInitializeID = 1
	codexRateLimitsID = 2

	codexStderrLimit = 16 * 1024
)

const (
	codexInstallHint = "install `codex` and ensure it is on PATH"
	codexLoginHint   = "run `codex` once and ensure you are logged in"
)

// Process is a child process with piped stdio.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Pid() int
	Wait() error
}

// StartFunc starts argv with piped stdio.
type StartFunc func(ctx context.Context, argv []string) (Process, error)

// CodexOptions configures the Codex app-server strategy. Zero values take defaults.
type CodexOptions struct {
	Command string        // Executable or command line, default "codex"
	Timeout time.Duration // Shared deadline for the whole exchange

	Start    StartFunc
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

func (o CodexOptions) withDefaults() CodexOptions {
	if strings.TrimSpace(o.Command) == "" {
		o.Command = "codex"
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Start == nil {
		o.Start = startPiped
	}
	if o.LookPath == nil {
		o.LookPath = exec.LookPath
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Codex reads rate limits from `codex app-server` over JSON-RPC.
type Codex struct {
	opts CodexOptions
}

// NewCodex creates the Codex app-server strategy.
func NewCodex(opts CodexOptions) *Codex {
	return &Codex{opts: opts.withDefaults()}
}

func (c *Codex) ID() model.SourceID { return model.SourceCodex }

// argv runs the command directly when it resolves on PATH and through a
// login shell otherwise, so shell-managed installs are still found.
func (c *Codex) argv() []string {
	fields := strings.Fields(c.opts.Command)
	if path, err := c.opts.LookPath(fields[0]); err == nil {
		return append(append([]string{path}, fields[1:]...), "app-server")
	}
	line := c.opts.Command + " app-server"
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/c", line}
	}
	return []string{"bash", "-lc", line}
}

type rateLimitWindow struct {
	UsedPercent        *float64 `json:"usedPercent"`
	WindowDurationMins *int64   `json:"windowDurationMins"`
	ResetsAt           *int64   `json:"resetsAt"`
}

type rateLimitSnapshot struct {
	LimitID   *string          `json:"limitId"`
	LimitName *string          `json:"limitName"`
	PlanType  *string          `json:"planType"`
	Primary   *rateLimitWindow `json:"primary"`
	Secondary *rateLimitWindow `json:"secondary"`
}

type rateLimitsResponse struct {
	RateLimits          *rateLimitSnapshot            `json:"rateLimits"`
	RateLimitsByLimitID map[string]*rateLimitSnapshot `json:"rateLimitsByLimitId"`
}

// Acquire runs one app-server exchange under a single deadline.
func (c *Codex) Acquire(ctx context.Context, opts AcquireOptions) Result {
	log := c.opts.Logger.With("provider", model.SourceCodex)

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	argv := c.argv()
	proc, err := c.opts.Start(ctx, argv)
	if err != nil {
		log.Debug("spawn failed", "command", argv, "error", err)
		kind := classifyCodex(err.Error())
		if isMissingBinary(err) {
			kind = model.ErrNotInstalled
		}
		return codexFailure(kind, fmt.Sprintf("start codex: %v", err))
	}

	stderr := newTailBuffer(codexStderrLimit)
	stderrDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(stderr, proc.Stderr())
		close(stderrDone)
	}()
	defer c.stop(proc, log)

	client := newRPCClient(proc.Stdin(), proc.Stdout())
	fail := func(prefix string, err error) Result {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return codexFailure(model.ErrTimeout, fmt.Sprintf("codex app-server timed out after %s", c.opts.Timeout))
		case errors.Is(err, context.Canceled):
			return codexFailure(model.ErrAcquireFailed, "acquisition canceled")
		case errors.Is(err, errPeerClosed):
			select {
			case <-stderrDone:
			case <-time.After(200 * time.Millisecond):
			}
			if tail := lastLine(stderr.String()); tail != "" {
				err = fmt.Errorf("%w: %s", err, tail)
			}
		}
		msg := prefix + redact(err.Error())
		return codexFailure(classifyCodex(msg), msg)
	}

	initParams := map[string]any{
		"clientInfo": map[string]string{
			"name":    "usage_status_cli",
			"title":   "Usage Status CLI",
			"version": "0.1.0",
		},
	}
	if _, err := client.call(ctx, codexInitializeID, "initialize", initParams); err != nil {
		return fail("codex initialize failed: ", err)
	}
	if err := client.notify("initialized", map[string]any{}); err != nil {
		return fail("codex initialize failed: ", err)
	}
	raw, err := client.call(ctx, codexRateLimitsID, "account/rateLimits/read", nil)
	if err != nil {
		return fail("codex account/rateLimits/read failed: ", err)
	}

	var resp rateLimitsResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.RateLimits == nil {
		return codexFailure(model.ErrInvalidResponse, "codex account/rateLimits/read returned an unexpected payload")
	}
	snap := resp.RateLimits
	if s, ok := resp.RateLimitsByLimitID["codex"]; ok && s != nil {
		snap = s
	}

	res := Result{Rows: rateLimitRows(snap)}
	if len(res.Rows) == 0 {
		res.Errors = []model.SourceError{model.NewSourceError(model.SourceCodex, model.ErrInvalidResponse,
			"codex reported no rate limit windows", codexLoginHint)}
	}
	if opts.Debug {
		res.Debug = map[string]any{
			"spawnCommand":           strings.Join(argv, " "),
			"limitId":                snap.LimitID,
			"limitName":              snap.LimitName,
			"planType":               snap.PlanType,
			"hadRateLimitsByLimitId": resp.RateLimitsByLimitID != nil,
		}
	}
	return res
}

func (c *Codex) stop(proc Process, log *slog.Logger) {
	_ = proc.Stdin().Close()
	if err := killTree(proc.Pid()); err != nil {
		log.Debug("kill codex", "error", err)
	}
	done := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		log.Warn("codex app-server did not exit after kill", "pid", proc.Pid())
	}
}

func rateLimitRows(snap *rateLimitSnapshot) []model.Row {
	var rows []model.Row
	seen := make(map[string]bool)
	for _, w := range []*rateLimitWindow{snap.Primary, snap.Secondary} {
		if w == nil || w.UsedPercent == nil {
			continue
		}
		window := "codex:" + FormatWindow(w.WindowDurationMins)
		if seen[window] {
			window += ":secondary"
		}
		seen[window] = true

		pct := min(max(*w.UsedPercent, 0), 100)
		row := model.Row{
			Source:      model.SourceCodex,
			Window:      window,
			UsedPercent: &pct,
			Provenance:  model.ProvenanceStructured,
			Confidence:  model.ConfidenceHigh,
		}
		if w.ResetsAt != nil {
			row.ResetAt = timeparse.FromEpochSeconds(*w.ResetsAt)
		}
		rows = append(rows, row)
	}
	return rows
}

// FormatWindow labels a rate limit window by its duration in minutes.
func FormatWindow(mins *int64) string {
	if mins == nil || *mins <= 0 {
		return "unknown"
	}
	m := *mins
	switch {
	case m >= 295 && m <= 305:
		return "5h"
	case m >= 10000 && m <= 10100:
		return "weekly"
	case m%(60*24) == 0:
		return fmt.Sprintf("%dd", m/(60*24))
	case m%60 == 0:
		return fmt.Sprintf("%dh", m/60)
	}
	return fmt.Sprintf("%dm", m)
}

var offlineMarkers = []string{"network is unreachable", "no such host", "dial tcp", "connection refused", "offline"}

// classifyCodex maps a failure message onto the error taxonomy.
func classifyCodex(msg string) model.ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case mentionsMissingBinary(m):
		return model.ErrNotInstalled
	case strings.Contains(m, "timed out") || strings.Contains(m, "timeout"):
		return model.ErrTimeout
	case strings.Contains(m, "unauthorized") || strings.Contains(m, "forbidden"):
		return model.ErrAuthRequired
	}
	for _, marker := range offlineMarkers {
		if strings.Contains(m, marker) {
			return model.ErrOffline
		}
	}
	return model.ErrAcquireFailed
}

func codexFailure(kind model.ErrorKind, msg string) Result {
	hint := codexLoginHint
	if kind == model.ErrNotInstalled {
		hint = codexInstallHint
	}
	return failure(model.SourceCodex, kind, msg, hint)
}

type pipedProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func startPiped(_ context.Context, argv []string) (Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &pipedProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

func (p *pipedProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *pipedProcess) Stdout() io.Reader     { return p.stdout }
func (p *pipedProcess) Stderr() io.Reader     { return p.stderr }
func (p *pipedProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *pipedProcess) Wait() error           { return p.cmd.Wait() }
