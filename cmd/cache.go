package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/sectional/internal/cache"
	"github.com/conneroisu/sectional/internal/errors"
	"github.com/conneroisu/sectional/internal/renderer"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the parse cache",
		Long: `Inspect and maintain the persistent parse cache. Only the disk and
sqlite backends outlive a process, so these commands are mostly useful
with them.

Examples:
  sectional cache stats --cache-backend disk
  sectional cache stats -o json
  sectional cache prune
  sectional cache clear`,
	}

	var format string
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withStore(func(store cache.Store) error {
				return writeStats(a, format, store.Stats())
			})
		},
	}
	addOutputFlag(statsCmd, &format)

	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop expired entries and trim the cache to its size limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(func(store cache.Store) error {
				removed, err := store.Prune()
				if err != nil {
					return err
				}
				a.logger.Info(cmd.Context(), "Cache pruned", "removed", removed)
				a.printf("Removed %d entries\n", removed)
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withStore(func(store cache.Store) error {
				entries := store.Stats().Entries
				if err := store.Clear(); err != nil {
					return err
				}
				a.printf("Cleared %d entries\n", entries)
				return nil
			})
		},
	}

	cmd.AddCommand(statsCmd, pruneCmd, clearCmd)
	return cmd
}

// withStore opens the configured cache for fn and closes it afterwards.
func (a *app) withStore(fn func(cache.Store) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	r, err := renderer.New(cfg, renderer.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	defer r.Close()

	store := r.Store()
	if store == nil {
		return errors.NewConfigError(errors.ErrCodeCacheBackend, "caching is disabled").
			WithComponent("cache.backend").
			WithContext("backend", cfg.Cache.Backend)
	}

	if err := fn(store); err != nil {
		errors.NewErrorHandler(a.logger).Handle(context.Background(), err)
		return err
	}
	return nil
}

type statsView struct {
	cache.Stats `yaml:",inline"`
	HitRate     float64 `json:"hit_rate" yaml:"hit_rate"`
}

func writeStats(a *app, format string, stats cache.Stats) error {
	view := statsView{Stats: stats, HitRate: stats.HitRate()}
	return writeOutput(a.out, format, view, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "BACKEND\tENTRIES\tSIZE\tMAX SIZE\tHITS\tMISSES\tEVICTIONS\tHIT RATE")
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
			stats.Backend, stats.Entries, stats.Size, stats.MaxSize,
			stats.Hits, stats.Misses, stats.Evictions, view.HitRate*100)
	})
}
