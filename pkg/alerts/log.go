package alerts

import (
	"context"
	"log/slog"
)

// LogNotifier writes events to a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs each event at warn level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Send(ctx context.Context, event Event) error {
	l.logger.WarnContext(ctx, event.Title(),
		"event_id", event.ID,
		"event_key", event.EventKey,
		"level", event.Level,
		"reason", event.Reason,
		"body", event.Body(),
	)
	return nil
}
