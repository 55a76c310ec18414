package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

const (
	webhookTimeout   = 10 * time.Second
	webhookErrorBody = 512
)

// WebhookOption configures a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookTimeout sets the HTTP client timeout. Default: 10s.
func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookNotifier) { w.client.Timeout = d }
}

// WithWebhookHeaders adds static headers to every request.
func WithWebhookHeaders(h map[string]string) WebhookOption {
	return func(w *WebhookNotifier) { w.headers = h }
}

// WebhookNotifier posts one usage threshold crossing per request.
//
// With a secret, X-Qmeter-Signature carries sha256=HMAC(secret, "<ts>.<body>")
// where ts is the X-Qmeter-Timestamp header, so receivers can reject replays.
type WebhookNotifier struct {
	url     string
	secret  []byte
	headers map[string]string
	client  *http.Client
	now     func() time.Time
}

// NewWebhookNotifier creates a notifier for url. An empty secret disables signing.
func NewWebhookNotifier(url, secret string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		now:    time.Now,
	}
	if secret != "" {
		w.secret = []byte(secret)
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookNotifier) Name() string { return "webhook" }

// usagePayload flattens an event so receivers need no knowledge of row internals.
type usagePayload struct {
	Type        string           `json:"type"`
	ID          string           `json:"id"`
	EventKey    string           `json:"eventKey"`
	Source      model.SourceID   `json:"source"`
	Window      string           `json:"window"`
	Level       model.AlertLevel `json:"level"`
	Reason      Reason           `json:"reason"`
	Title       string           `json:"title"`
	Body        string           `json:"body"`
	UsedPercent *float64         `json:"usedPercent"`
	ResetAt     *time.Time       `json:"resetAt"`
	At          string           `json:"at"`
}

func newUsagePayload(e Event) usagePayload {
	return usagePayload{
		Type:        "usage.threshold",
		ID:          e.ID,
		EventKey:    e.EventKey,
		Source:      e.Row.Source,
		Window:      e.Row.Window,
		Level:       e.Level,
		Reason:      e.Reason,
		Title:       e.Title(),
		Body:        e.Body(),
		UsedPercent: e.Row.UsedPercent,
		ResetAt:     e.Row.ResetAt,
		At:          e.At.UTC().Format(time.RFC3339),
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(newUsagePayload(event))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "qmeter/1.0")
	req.Header.Set("X-Qmeter-Event-Id", event.ID)
	req.Header.Set("X-Qmeter-Event-Key", event.EventKey)

	if w.secret != nil {
		ts := strconv.FormatInt(w.now().Unix(), 10)
		req.Header.Set("X-Qmeter-Timestamp", ts)
		req.Header.Set("X-Qmeter-Signature", "sha256="+SignWebhook(w.secret, ts, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook event %s: %w", event.EventKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, webhookErrorBody))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SignWebhook returns the hex HMAC-SHA256 of "<ts>.<body>" under secret.
func SignWebhook(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
