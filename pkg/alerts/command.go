package alerts

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandNotifier runs an external program per event, such as notify-send.
// The title and body are appended as the last two arguments and are also
// exported as QMETER_EVENT_* environment variables.
type CommandNotifier struct {
	argv    []string
	timeout time.Duration
}

// NewCommandNotifier creates a notifier that runs argv for every event.
func NewCommandNotifier(argv []string) (*CommandNotifier, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, fmt.Errorf("command notifier: empty command")
	}
	return &CommandNotifier{argv: argv, timeout: 10 * time.Second}, nil
}

func (c *CommandNotifier) Name() string { return "command" }

func (c *CommandNotifier) Send(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append(append([]string(nil), c.argv[1:]...), event.Title(), event.Body())
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	cmd.Env = append(os.Environ(),
		"QMETER_EVENT_ID="+event.ID,
		"QMETER_EVENT_KEY="+event.EventKey,
		"QMETER_EVENT_LEVEL="+string(event.Level),
		"QMETER_EVENT_REASON="+string(event.Reason),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run %s: %w: %s", c.argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
