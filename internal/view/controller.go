// Package view owns the calendar's navigation state (mode and anchor date)
// and produces the grid description the kiosk shell renders.
package view

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"kioskcal/internal/calendar"
	"kioskcal/internal/layout"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
	"kioskcal/internal/store"
)

// ErrNotFound is returned by Activate for an unknown occurrence id.
var ErrNotFound = errors.New("occurrence not found")

// Source is the read side of the event store.
type Source interface {
	QueryMonth(year int, month time.Month) []model.Occurrence
	QueryWeek(date time.Time, firstDay int) []model.Occurrence
	Find(id string) (model.Occurrence, bool)
	Location() *time.Location
}

// Refresher is the part of the refresh pipeline the controller follows.
type Refresher interface {
	NotConfigured() bool
	OnRefresh(fn func(calendar.Report))
}

// Options configures a Controller.
type Options struct {
	FirstDayOfWeek int
	DefaultView    model.Mode
	Now            func() time.Time
	Layout         layout.WeekOptions
}

// Rendered is one complete view description. Exactly one of Month and Week
// is set.
type Rendered struct {
	Mode          model.Mode
	Anchor        time.Time
	Title         string
	Month         *layout.MonthGrid
	Week          *layout.WeekGrid
	NotConfigured bool
}

// Controller is safe for concurrent use. Listeners are called without the
// controller's lock held.
type Controller struct {
	src       Source
	refresher Refresher
	opts      Options
	loc       *time.Location

	mu     sync.Mutex
	mode   model.Mode
	anchor time.Time

	subMu      sync.Mutex
	nextSubID  int
	subs       map[int]func(Rendered)
	modeListen func(model.Mode)
	detail     func(model.Occurrence)
}

// NewController creates a controller anchored at today. refresher may be
// nil.
func NewController(src Source, refresher Refresher, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultView == "" {
		opts.DefaultView = model.ModeMonth
	}
	c := &Controller{
		src:       src,
		refresher: refresher,
		opts:      opts,
		loc:       src.Location(),
		mode:      opts.DefaultView,
		subs:      map[int]func(Rendered){},
	}
	c.anchor = store.DayStart(c.now())
	if refresher != nil {
		refresher.OnRefresh(func(calendar.Report) {
			c.notify(c.Render())
		})
	}
	return c
}

func (c *Controller) now() time.Time {
	return c.opts.Now().In(c.loc)
}

// State returns the current mode and anchor.
func (c *Controller) State() (model.Mode, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.anchor
}

// SwitchView changes the view mode. The anchor date is kept.
func (c *Controller) SwitchView(m model.Mode) Rendered {
	c.mu.Lock()
	changed := c.mode != m
	c.mode = m
	c.mu.Unlock()

	if changed {
		appLog.Debug("view: mode switched", "mode", m)
		c.subMu.Lock()
		fn := c.modeListen
		c.subMu.Unlock()
		if fn != nil {
			fn(m)
		}
	}
	return c.update()
}

// Previous moves back one month or one week depending on the mode.
func (c *Controller) Previous() {
	c.step(-1)
}

// Next moves forward one month or one week depending on the mode.
func (c *Controller) Next() {
	c.step(1)
}

// Step moves by n months or weeks and returns the new view.
func (c *Controller) Step(n int) Rendered {
	return c.step(n)
}

func (c *Controller) step(n int) Rendered {
	c.mu.Lock()
	if c.mode == model.ModeWeek {
		c.anchor = c.anchor.AddDate(0, 0, 7*n)
	} else {
		// Anchor on the 1st so Jan 31 + 1 month is February, not March.
		c.anchor = time.Date(c.anchor.Year(), c.anchor.Month()+time.Month(n), 1, 0, 0, 0, 0, c.loc)
	}
	c.mu.Unlock()
	return c.update()
}

// Today moves the anchor to the current date.
func (c *Controller) Today() Rendered {
	return c.GoTo(c.now())
}

// GoTo moves the anchor to date's calendar day.
func (c *Controller) GoTo(date time.Time) Rendered {
	c.mu.Lock()
	c.anchor = store.DayStart(date.In(c.loc))
	c.mu.Unlock()
	return c.update()
}

// Render computes the view for the current state without changing it.
func (c *Controller) Render() Rendered {
	mode, anchor := c.State()
	now := c.now()

	r := Rendered{
		Mode:          mode,
		Anchor:        anchor,
		NotConfigured: c.refresher != nil && c.refresher.NotConfigured(),
	}

	switch mode {
	case model.ModeWeek:
		occs := c.src.QueryWeek(anchor, c.opts.FirstDayOfWeek)
		opts := c.opts.Layout
		opts.Now = now
		g := layout.Week(anchor, c.opts.FirstDayOfWeek, occs, opts)
		r.Week = &g
		r.Title = weekTitle(g.Days[0], g.Days[6])
	default:
		y, m := anchor.Year(), anchor.Month()
		g := layout.Month(y, m, c.opts.FirstDayOfWeek, c.src.QueryMonth(y, m), now)
		r.Month = &g
		r.Title = fmt.Sprintf("%s %d", m, y)
	}
	return r
}

func weekTitle(first, last time.Time) string {
	switch {
	case first.Year() != last.Year():
		return first.Format("Jan 2, 2006") + " - " + last.Format("Jan 2, 2006")
	case first.Month() != last.Month():
		return first.Format("Jan 2") + " - " + last.Format("Jan 2, 2006")
	}
	return first.Format("Jan 2") + " - " + last.Format("2, 2006")
}

// Subscribe registers fn to receive every re-render. The returned function
// removes the subscription.
func (c *Controller) Subscribe(fn func(Rendered)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

// SetModeListener registers the callback told about mode switches, e.g.
// the gesture engine's SetMode.
func (c *Controller) SetModeListener(fn func(model.Mode)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.modeListen = fn
}

// OnDetail registers the handler for activated occurrences.
func (c *Controller) OnDetail(fn func(model.Occurrence)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.detail = fn
}

// Activate resolves id and hands the occurrence to the detail handler.
func (c *Controller) Activate(id string) (model.Occurrence, error) {
	occ, ok := c.src.Find(id)
	if !ok {
		return model.Occurrence{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	c.subMu.Lock()
	fn := c.detail
	c.subMu.Unlock()
	if fn != nil {
		fn(occ)
	}
	return occ, nil
}

func (c *Controller) update() Rendered {
	r := c.Render()
	c.notify(r)
	return r
}

func (c *Controller) notify(r Rendered) {
	c.subMu.Lock()
	fns := make([]func(Rendered), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}
