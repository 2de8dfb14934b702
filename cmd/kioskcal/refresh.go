package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"kioskcal/internal/calendar"
	"kioskcal/internal/ics"
	"kioskcal/internal/model"
)

func newRefreshCommand(root *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch every feed once and print the upcoming agenda.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			p, err := buildPipeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer p.close()

			rep := p.svc.Refresh(cmd.Context())
			printFeeds(color.Output, rep)
			if rep.NotConfigured {
				return nil
			}

			now := time.Now().In(p.store.Location())
			occs := p.store.Between(now, now.AddDate(0, 0, days))
			printAgenda(color.Output, occs, p.store.Location())
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Number of days of agenda to print")
	return cmd
}

func printFeeds(w io.Writer, rep calendar.Report) {
	if rep.NotConfigured {
		fmt.Fprintln(w, color.YellowString("No calendar feeds configured."))
		return
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.AddRow("FEED", "STATUS", "EVENTS", "URL")
	for _, fs := range rep.Feeds {
		status := color.GreenString("ok")
		switch {
		case fs.Err != nil:
			status = color.RedString("failed: %v", fs.Err)
		case fs.FromCache:
			status = color.GreenString("cached")
		}
		if len(fs.Truncated) > 0 {
			status += color.YellowString(" (truncated %d)", len(fs.Truncated))
		}
		tbl.AddRow(fs.Source.Name, status, fs.Occurrences, ics.RedactURL(fs.Source.URL))
	}
	fmt.Fprintln(w, tbl)
}

func printAgenda(w io.Writer, occs []model.Occurrence, loc *time.Location) {
	if len(occs) == 0 {
		fmt.Fprintln(w, "No upcoming events.")
		return
	}

	tbl := uitable.New()
	tbl.Separator = "  "
	tbl.MaxColWidth = 60
	tbl.AddRow("DAY", "TIME", "EVENT", "CALENDAR")

	var lastDay string
	for _, o := range occs {
		start := o.Start.In(loc)
		day := start.Format("Mon Jan 2")
		if day == lastDay {
			day = ""
		} else {
			lastDay = day
			day = color.New(color.Bold).Sprint(day)
		}

		when := "all day"
		if !o.AllDay {
			when = start.Format("15:04") + "-" + o.End.In(loc).Format("15:04")
		}
		title := o.Title
		if o.Location != "" {
			title += " @ " + o.Location
		}
		tbl.AddRow(day, when, title, o.SourceName)
	}
	fmt.Fprintln(w, tbl)
}
