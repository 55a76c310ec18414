package providers

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// killTree forcefully terminates pid and every descendant, children first.
// Processes that already exited are ignored.
func killTree(pid int) error {
	if pid <= 0 {
		return nil
	}
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	return killProcess(root)
}

func killProcess(p *process.Process) error {
	children, _ := p.Children()
	for _, c := range children {
		_ = killProcess(c)
	}
	if err := p.Kill(); err != nil {
		if running, _ := p.IsRunning(); !running {
			return nil
		}
		return fmt.Errorf("kill process %d: %w", p.Pid, err)
	}
	return nil
}

// isMissingBinary reports whether a spawn failure means the executable does not exist.
func isMissingBinary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return mentionsMissingBinary(err.Error())
}

func mentionsMissingBinary(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "enoent") || strings.Contains(m, "not found") || strings.Contains(m, "is not recognized")
}

var secretRe = regexp.MustCompile(`(?i)(bearer\s+|api[_-]?key["'=:\s]+|token["'=:\s]+)[A-Za-z0-9._~+/-]{8,}|sk-[A-Za-z0-9_-]{16,}`)

// redact masks credential-looking substrings in child process output before
// it is surfaced in an error message.
func redact(msg string) string {
	return secretRe.ReplaceAllStringFunc(msg, func(m string) string {
		if sub := secretRe.FindStringSubmatch(m); sub != nil && sub[1] != "" {
			return sub[1] + "[redacted]"
		}
		return "[redacted]"
	})
}
