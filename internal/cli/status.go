package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ogulcanaydogan/qmeter/pkg/collector"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
)

type statusOptions struct {
	json      bool
	refresh   bool
	view      string
	providers string
}

func (a *app) runStatus(ctx context.Context, opts statusOptions) error {
	if opts.view != "table" && opts.view != "graph" {
		return usageErrorf("unknown view: %s", opts.view)
	}
	sources, err := parseSources(opts.providers)
	if err != nil {
		return err
	}

	registry, err := a.initRegistry()
	if err != nil {
		return err
	}
	cache, _ := a.initStores()

	res := collector.New(registry, cache, a.env.CacheTTL, a.logger).Collect(ctx, collector.Options{
		Refresh: opts.refresh,
		Debug:   a.debug,
		Sources: sources,
	})

	if a.debug {
		for _, id := range sources {
			dbg, ok := res.Debug[id]
			if !ok || dbg == nil {
				continue
			}
			data, err := json.MarshalIndent(dbg, "", "  ")
			if err != nil {
				continue
			}
			fmt.Fprintf(a.stderr, "[debug] %s: %s\n", id, data)
		}
	}

	switch {
	case opts.json:
		err = renderJSON(a.stdout, res.Snapshot)
	case opts.view == "graph":
		err = renderGraph(a.stdout, res.Snapshot, graphOptions{
			Color:      isTerminal(a.stdout),
			Thresholds: a.settings.Policy().Thresholds,
		})
	default:
		err = renderTable(a.stdout, res.Snapshot)
	}
	if err != nil {
		return err
	}
	return exitFor(res.Snapshot)
}

// exitFor maps a snapshot to the process exit status.
func exitFor(snap model.Snapshot) error {
	switch {
	case len(snap.Rows) > 0 && len(snap.Errors) == 0:
		return nil
	case len(snap.Rows) > 0:
		return &ExitError{Code: ExitPartial}
	default:
		return &ExitError{Code: ExitNoRows}
	}
}
