package main

import (
	"context"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"kioskcal/internal/calendar"
	"kioskcal/internal/config"
	"kioskcal/internal/ics"
	"kioskcal/internal/ics/sqlite"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/store"
)

const version = "0.1.0"

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kioskcal",
		Short:         "Calendar backend for a kiosk home dashboard.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "/etc/kioskcal/config.yaml", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")

	cmd.AddCommand(
		newServeCommand(opts),
		newRefreshCommand(opts),
		newSnapshotCommand(opts),
	)
	return cmd
}

// load reads the config and applies the log level.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return cfg, nil
}

// pipeline is the refresh pipeline plus whatever must be closed with it.
type pipeline struct {
	svc   *calendar.Service
	store *store.Store
	close func()
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*pipeline, error) {
	p := &pipeline{close: func() {}}

	var cache ics.DocumentCache
	if path := cfg.Calendar.CacheDB; path != "" {
		c, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		keep := make([]string, 0, len(cfg.Calendar.Feeds))
		for _, f := range cfg.Calendar.Feeds {
			keep = append(keep, f.URL)
		}
		if n, err := c.Prune(ctx, keep); err != nil {
			appLog.Error("cache prune failed", err, "path", path)
		} else if n > 0 {
			appLog.Info("pruned cached documents of removed feeds", "count", n)
		}
		cache = c
		p.close = func() { c.Close() }
	}

	fetcher := ics.NewFetcher(ics.FetcherOptions{
		RefreshInterval: cfg.RefreshEvery(),
		Cache:           cache,
	})
	p.store = store.New(cfg.Location())
	p.svc = calendar.New(fetcher, p.store, calendar.Options{
		Sources:        cfg.Sources(),
		Location:       cfg.Location(),
		HorizonDays:    cfg.Calendar.HorizonDays,
		MaxOccurrences: cfg.Calendar.MaxOccurrences,
	})
	return p, nil
}
