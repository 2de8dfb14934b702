// Package capture renders the kiosk page in headless Chromium and saves a
// PNG, for checking layouts on a box without a screen.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"

	appLog "kioskcal/internal/log"
)

// Defaults match a 1080p kiosk panel in landscape.
const (
	DefaultWidth      = 1920
	DefaultHeight     = 1080
	DefaultTimeoutSec = 30

	// ReadySelector matches the element the calendar page marks once the
	// grid is in the DOM.
	ReadySelector = `[data-ready="true"]`
)

// Options defines a snapshot.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/?view=week".
	URL string

	// Width and Height are the viewport in pixels.
	Width  int
	Height int

	// Timeout bounds the whole capture.
	Timeout time.Duration

	// ExecPath overrides the Chromium binary chromedp looks up.
	ExecPath string
}

func (o Options) validate() (Options, error) {
	if o.URL == "" {
		return o, errors.New("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	return o, nil
}

// Snapshot navigates to opts.URL, waits for ReadySelector and returns a
// full-page PNG.
func Snapshot(parentCtx context.Context, opts Options) ([]byte, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parentCtx, allocOpts...)
	defer allocCancel()

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	start := time.Now()
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let fonts and the last paint settle.
		chromedp.Sleep(300 * time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	appLog.Info("capture: snapshot taken", "width", opts.Width, "height", opts.Height, "bytes", len(png), "took", time.Since(start))
	return png, nil
}

// SnapshotFile is Snapshot followed by writing the PNG to path.
func SnapshotFile(ctx context.Context, opts Options, path string) error {
	if path == "" {
		return errors.New("capture: output path is required")
	}
	png, err := Snapshot(ctx, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	return nil
}
