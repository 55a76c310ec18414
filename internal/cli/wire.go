package cli

import (
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/qmeter/internal/config"
	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/providers"
	"github.com/ogulcanaydogan/qmeter/pkg/storage"
)

// initRegistry registers the acquisition strategy for every source. Fixture
// mode replaces the real CLIs with canned data.
func (a *app) initRegistry() (*providers.Registry, error) {
	registry := providers.NewRegistry()

	if a.env.FixtureMode() {
		set, err := providers.LoadFixtures(a.env.FixtureFile)
		if err != nil {
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		for _, id := range model.AllSources() {
			if err := registry.Register(providers.NewFixture(id, set)); err != nil {
				return nil, err
			}
		}
		return registry, nil
	}

	claude := providers.NewClaude(providers.ClaudeOptions{
		Command: a.env.ClaudeCommand,
		BashExe: a.env.BashExe,
		Logger:  a.logger.With("provider", model.SourceClaude),
	})
	codex := providers.NewCodex(providers.CodexOptions{
		Command: a.env.CodexCommand,
		Logger:  a.logger.With("provider", model.SourceCodex),
	})
	for _, p := range []providers.Provider{claude, codex} {
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// initStores opens the cache and notification state. Fixture mode keeps both
// in memory so canned data never reaches the real files.
func (a *app) initStores() (storage.CacheStore, storage.StateStore) {
	if a.env.FixtureMode() {
		return storage.NewMemoryCache(), storage.NewMemoryState()
	}
	return storage.NewFileCache(a.env.CachePath), storage.NewFileState(a.env.StatePath)
}

// initNotifiers creates alert notifiers from settings.
func (a *app) initNotifiers(cfg config.NotifiersConfig) ([]alerts.Notifier, error) {
	var notifiers []alerts.Notifier

	if cfg.Log {
		notifiers = append(notifiers, alerts.NewLogNotifier(a.logger))
	}

	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Slack.WebhookURL,
			cfg.Slack.Channel,
		))
	}

	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Webhook.URL,
			cfg.Webhook.Secret,
		))
	}

	if cfg.Command.Enabled {
		n, err := alerts.NewCommandNotifier(cfg.Command.Argv)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	return notifiers, nil
}

// parseSources parses a --providers value into sources in collection order.
func parseSources(raw string) ([]model.SourceID, error) {
	if raw == "all" {
		return model.AllSources(), nil
	}
	want := make(map[model.SourceID]bool)
	for _, part := range splitList(raw) {
		id, err := model.ParseSourceID(part)
		if err != nil {
			return nil, usageErrorf("unknown provider: %s", part)
		}
		want[id] = true
	}
	if len(want) == 0 {
		return nil, usageErrorf("--providers must include at least one of: claude,codex,all")
	}
	var out []model.SourceID
	for _, id := range model.AllSources() {
		if want[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
