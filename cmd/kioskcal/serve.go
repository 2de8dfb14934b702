package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kioskcal/internal/battery"
	"kioskcal/internal/config"
	"kioskcal/internal/gesture"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
	"kioskcal/internal/view"
	"kioskcal/internal/web"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar API and page, refreshing feeds on schedule.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	appLog.Info("kioskcal starting", "version", version)
	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Location().String(),
		"refresh", cfg.RefreshCron,
		"refresh_interval_minutes", cfg.Calendar.RefreshInterval,
		"horizon_days", cfg.Calendar.HorizonDays,
		"feed_count", len(cfg.Calendar.Feeds),
		"cache_db", cfg.Calendar.CacheDB,
	)

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.close()

	mode, _ := model.ParseMode(cfg.Calendar.DefaultView)
	ctrl := view.NewController(p.store, p.svc, view.Options{
		FirstDayOfWeek: cfg.Calendar.FirstDayOfWeek,
		DefaultView:    mode,
	})
	engine := gesture.New(ctrl, nil, gesture.DefaultThresholds())
	engine.SetMode(mode)
	ctrl.SetModeListener(engine.SetMode)
	ctrl.OnDetail(func(o model.Occurrence) {
		appLog.Info("event activated", "id", o.ID, "feed", o.SourceName)
	})
	defer engine.Stop()

	bat := battery.Open(ctx, cfg.Battery.Enabled, cfg.Battery.Bus, cfg.Battery.Address)

	go p.svc.Refresh(ctx)
	if _, err := p.svc.Schedule(ctx, cfg.RefreshCron); err != nil {
		return err
	}

	srv := web.NewServer(cfg, web.Deps{
		Service:    p.svc,
		Controller: ctrl,
		Gestures:   engine,
		Battery:    bat,
	})
	err = srv.ListenAndServe(ctx)
	appLog.Info("kioskcal exiting")
	return err
}
