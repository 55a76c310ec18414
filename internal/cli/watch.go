package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogulcanaydogan/qmeter/internal/config"
	"github.com/ogulcanaydogan/qmeter/pkg/alerts"
	"github.com/ogulcanaydogan/qmeter/pkg/collector"
	"github.com/ogulcanaydogan/qmeter/pkg/metrics"
	"github.com/ogulcanaydogan/qmeter/pkg/scheduler"
	"github.com/spf13/cobra"
)

const settingsDebounce = 250 * time.Millisecond

type watchOptions struct {
	once  bool
	print bool
}

func (a *app) watchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll usage in the background and send threshold notifications",
		Long: `watch polls the visible providers on the configured interval, evaluates the
notification policy and delivers events to the configured notifiers. Failed
passes back off exponentially. SIGHUP forces an immediate refresh and edits
to the settings file are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runWatch(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single pass and exit with its status")
	cmd.Flags().BoolVar(&opts.print, "print", false, "print the table after every pass")
	return cmd
}

func (a *app) runWatch(ctx context.Context, opts watchOptions) error {
	registry, err := a.initRegistry()
	if err != nil {
		return err
	}
	cache, state := a.initStores()

	notifiers, err := a.initNotifiers(a.settings.Notifiers)
	if err != nil {
		return err
	}
	dispatcher := alerts.NewDispatcher(notifiers, a.settings.Notifiers.RateLimitPerMinute, a.settings.Notifiers.Burst, a.logger)

	c := collector.New(registry, cache, a.env.CacheTTL, a.logger)
	poller := scheduler.NewPoller(c, state, dispatcher, a.settings.Scheduler(), a.logger)
	if path := a.settings.Metrics.TextfilePath; path != "" {
		poller.SetExporter(metrics.NewTextfile(path))
	}
	if opts.print {
		poller.OnPass(func(p scheduler.Pass) {
			if err := renderTable(a.stdout, p.Snapshot); err != nil {
				a.logger.Warn("render pass", "error", err)
			}
		})
	}

	if opts.once {
		pass := poller.RunOnce(ctx, false)
		return exitFor(pass.Snapshot)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				a.logger.Info("refresh requested")
				poller.RequestRefresh()
			}
		}
	}()

	if w, err := config.NewWatcher(a.settingsPath, settingsDebounce, a.logger); err != nil {
		a.logger.Warn("settings will not be reloaded", "path", a.settingsPath, "error", err)
	} else {
		go func() {
			_ = w.Run(ctx, func(s *config.Settings, err error) {
				if err != nil {
					a.logger.Warn("invalid settings, keeping the current ones", "error", err)
					return
				}
				poller.UpdateConfig(s.Scheduler())
			})
		}()
	}

	a.logger.Info("watching",
		"interval", a.settings.Interval(),
		"sources", a.settings.Sources(),
		"notifiers", len(notifiers),
	)
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	a.logger.Info("stopped")
	return nil
}
