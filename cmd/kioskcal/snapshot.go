package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"kioskcal/internal/capture"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

type snapshotOptions struct {
	url      string
	out      string
	view     string
	date     string
	width    int
	height   int
	timeout  time.Duration
	execPath string
}

func newSnapshotCommand(root *rootOptions) *cobra.Command {
	opts := &snapshotOptions{}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture a PNG of the calendar page served by a running instance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			base := opts.url
			if base == "" {
				base = "http://" + cfg.Listen + "/"
			}
			target, err := snapshotURL(base, opts.view, opts.date)
			if err != nil {
				return err
			}

			appLog.Info("capturing snapshot", "url", target, "out", opts.out)
			return capture.SnapshotFile(cmd.Context(), capture.Options{
				URL:      target,
				Width:    opts.width,
				Height:   opts.height,
				Timeout:  opts.timeout,
				ExecPath: opts.execPath,
			}, opts.out)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "Page URL (default http://<listen>/)")
	cmd.Flags().StringVar(&opts.out, "out", "kioskcal.png", "Output PNG path")
	cmd.Flags().StringVar(&opts.view, "view", "", "View mode to capture (month or week)")
	cmd.Flags().StringVar(&opts.date, "date", "", "Anchor date to capture (YYYY-MM-DD)")
	cmd.Flags().IntVar(&opts.width, "width", capture.DefaultWidth, "Viewport width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", capture.DefaultHeight, "Viewport height in pixels")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Duration(capture.DefaultTimeoutSec)*time.Second, "Capture timeout")
	cmd.Flags().StringVar(&opts.execPath, "chromium", "", "Chromium binary (default: looked up on PATH)")
	return cmd
}

// snapshotURL adds the view and date query parameters understood by the
// page handler.
func snapshotURL(base, view, date string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", base, err)
	}
	q := u.Query()
	if view != "" {
		m, err := model.ParseMode(view)
		if err != nil {
			return "", err
		}
		q.Set("view", string(m))
	}
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return "", fmt.Errorf("invalid date %q: %w", date, err)
		}
		q.Set("date", date)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
