package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/qmeter/internal/config"
	"github.com/ogulcanaydogan/qmeter/pkg/model"
	"github.com/ogulcanaydogan/qmeter/pkg/storage"
	"github.com/spf13/cobra"
)

func (a *app) cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the snapshot cache",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show cached rows per provider",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cache, _ := a.initStores()
			return a.showCache(cache.Load(), asJSON)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the cache file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cache, _ := a.initStores()
			if err := cache.Clear(); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintln(a.stdout, "Cache cleared.")
			return nil
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func (a *app) showCache(c *storage.Cache, asJSON bool) error {
	if asJSON {
		out := make(map[model.SourceID]*storage.CacheEntry)
		for _, id := range model.AllSources() {
			out[id] = nil
			if e, ok := c.Entry(id); ok {
				out[id] = &e
			}
		}
		return renderJSON(a.stdout, out)
	}

	now := time.Now()
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "PROV\tFETCHED_AT\tROWS\tFRESH\n")
	for _, id := range model.AllSources() {
		e, ok := c.Entry(id)
		if !ok {
			fmt.Fprintf(tw, "%s\t-\t0\tno\n", id)
			continue
		}
		fresh := "no"
		if storage.IsFresh(e, a.env.CacheTTL, now) {
			fresh = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", id, e.FetchedAt.UTC().Format(time.RFC3339), len(e.Rows), fresh)
	}
	return tw.Flush()
}

func (a *app) stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or reset the notification state",
	}

	var asJSON bool
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the alert level per window",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, state := a.initStores()
			return a.showState(state.Load(), asJSON)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Forget all alert levels so the next pass notifies afresh",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			_, state := a.initStores()
			if err := state.Clear(); err != nil {
				return fmt.Errorf("reset notification state: %w", err)
			}
			fmt.Fprintln(a.stdout, "Notification state reset.")
			return nil
		},
	}

	cmd.AddCommand(show, reset)
	return cmd
}

func (a *app) showState(items map[string]model.NotificationState, asJSON bool) error {
	if asJSON {
		return renderJSON(a.stdout, items)
	}
	if len(items) == 0 {
		fmt.Fprintln(a.stdout, "(no state)")
		return nil
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "EVENT_KEY\tLEVEL\tLAST_NOTIFIED\n")
	for _, k := range keys {
		s := items[k]
		last := "-"
		if s.LastNotifiedAt != nil {
			last = s.LastNotifiedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.EventKey, s.Level, last)
	}
	return tw.Flush()
}

func (a *app) settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or create the settings file",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return renderJSON(a.stdout, a.settings)
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintln(a.stdout, a.settingsPath)
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default settings file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if _, err := os.Stat(a.settingsPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.settingsPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("stat settings: %w", err)
			}
			if err := config.Save(a.settingsPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Settings written to %s\n", a.settingsPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(show, path, initCmd)
	return cmd
}
