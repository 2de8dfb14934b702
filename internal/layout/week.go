package layout

import (
	"time"

	"kioskcal/internal/model"
	"kioskcal/internal/store"
)

// DefaultScrollHour is where the week view opens when no hour is set.
const DefaultScrollHour = 8

// WeekOptions sizes the hour grid. Zero values select the defaults.
type WeekOptions struct {
	HourHeight float64 // px per hour row, default 60
	MinHeight  float64 // smallest block height, default 20

	// ScrollHour is the initial scroll position; nil means 8. Midnight
	// is a valid choice.
	ScrollHour *int

	// Now marks today's column; zero means no column is marked.
	Now time.Time
}

func (o WeekOptions) withDefaults() WeekOptions {
	if o.HourHeight <= 0 {
		o.HourHeight = 60
	}
	if o.MinHeight <= 0 {
		o.MinHeight = 20
	}
	if o.ScrollHour == nil {
		h := DefaultScrollHour
		o.ScrollHour = &h
	} else if h := *o.ScrollHour; h < 0 || h >= HoursPerDay {
		h = min(max(h, 0), HoursPerDay-1)
		o.ScrollHour = &h
	}
	return o
}

// Placement positions a timed occurrence inside the hour row it starts in.
type Placement struct {
	Occurrence model.Occurrence
	Column     int
	Hour       int
	Top        float64
	Height     float64
}

// WeekGrid describes 7 day columns by 24 hour rows.
type WeekGrid struct {
	Start      time.Time
	Days       []time.Time
	HourHeight float64

	// TodayColumn is the column of Options.Now, or -1.
	TodayColumn int

	Placements []Placement

	// AllDay lists all-day occurrences touching the week. They are not
	// positioned on the hour grid.
	AllDay []model.Occurrence

	ScrollOffset float64
}

// HoursPerDay is the number of hour rows in a week grid.
const HoursPerDay = 24

// Week lays out the week containing anchor. Timed occurrences are placed
// in the column whose date equals their start date; occurrences starting
// outside the week are skipped.
func Week(anchor time.Time, firstDay int, occs []model.Occurrence, opts WeekOptions) WeekGrid {
	opts = opts.withDefaults()
	start := store.WeekStart(anchor, normalizeFirstDay(firstDay))
	end := start.AddDate(0, 0, 7).Add(-time.Nanosecond)

	g := WeekGrid{
		Start:        start,
		Days:         make([]time.Time, 7),
		HourHeight:   opts.HourHeight,
		TodayColumn:  -1,
		Placements:   make([]Placement, 0),
		AllDay:       make([]model.Occurrence, 0),
		ScrollOffset: float64(*opts.ScrollHour) * opts.HourHeight,
	}
	for i := range g.Days {
		g.Days[i] = start.AddDate(0, 0, i)
		if !opts.Now.IsZero() && store.SameDay(g.Days[i], opts.Now.In(start.Location())) {
			g.TodayColumn = i
		}
	}

	for _, o := range occs {
		if o.AllDay {
			if !o.Start.After(end) && !o.End.Before(start) {
				g.AllDay = append(g.AllDay, o)
			}
			continue
		}

		local := o.Start.In(start.Location())
		col := -1
		for i, day := range g.Days {
			if store.SameDay(local, day) {
				col = i
				break
			}
		}
		if col < 0 {
			continue
		}

		minutes := o.End.Sub(o.Start).Minutes()
		height := minutes / 60 * opts.HourHeight
		if height < opts.MinHeight {
			height = opts.MinHeight
		}
		g.Placements = append(g.Placements, Placement{
			Occurrence: o,
			Column:     col,
			Hour:       local.Hour(),
			Top:        float64(local.Minute()) / 60 * opts.HourHeight,
			Height:     height,
		})
	}
	return g
}
