// Package layout turns occurrences into month and week grid descriptions.
// It computes positions and groupings only; how they are drawn is up to
// the renderer.
package layout

import (
	"sort"
	"time"

	"kioskcal/internal/model"
	"kioskcal/internal/store"
)

// MaxPerCell is how many occurrences a month cell shows before it
// summarises the rest as "+N more".
const MaxPerCell = 4

// DayCell is one day of a month grid.
type DayCell struct {
	Date    time.Time
	Day     int
	IsToday bool

	// Occurrences holds at most MaxPerCell entries; Total counts every
	// occurrence touching the day.
	Occurrences   []model.Occurrence
	Total         int
	OverflowCount int
}

// MonthGrid describes a month laid out in weeks of 7 columns.
type MonthGrid struct {
	Year           int
	Month          time.Month
	FirstDayOfWeek int

	// LeadingBlanks is the number of empty cells before day 1.
	LeadingBlanks int
	Weekdays      []time.Weekday
	Days          []DayCell
	Rows          int
}

// Column returns the 0-based column of Days[i].
func (g MonthGrid) Column(i int) int { return (g.LeadingBlanks + i) % 7 }

// Row returns the 0-based row of Days[i].
func (g MonthGrid) Row(i int) int { return (g.LeadingBlanks + i) / 7 }

// Month lays out year/month starting weeks on firstDay (0 Sunday, 1
// Monday). Day boundaries are taken in now's location.
func Month(year int, month time.Month, firstDay int, occs []model.Occurrence, now time.Time) MonthGrid {
	firstDay = normalizeFirstDay(firstDay)
	loc := now.Location()

	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	daysInMonth := first.AddDate(0, 1, -1).Day()
	blanks := (int(first.Weekday()) - firstDay + 7) % 7

	g := MonthGrid{
		Year:           year,
		Month:          month,
		FirstDayOfWeek: firstDay,
		LeadingBlanks:  blanks,
		Weekdays:       Weekdays(firstDay),
		Days:           make([]DayCell, 0, daysInMonth),
		Rows:           (blanks + daysInMonth + 6) / 7,
	}

	for d := 1; d <= daysInMonth; d++ {
		date := time.Date(year, month, d, 0, 0, 0, 0, loc)
		end := date.AddDate(0, 0, 1).Add(-time.Nanosecond)

		var hits []model.Occurrence
		for _, o := range occs {
			if !o.Start.After(end) && !o.End.Before(date) {
				hits = append(hits, o)
			}
		}
		sortForCell(hits)

		cell := DayCell{
			Date:    date,
			Day:     d,
			IsToday: store.SameDay(date, now),
			Total:   len(hits),
		}
		if len(hits) > MaxPerCell {
			cell.OverflowCount = len(hits) - MaxPerCell
			hits = hits[:MaxPerCell]
		}
		cell.Occurrences = hits
		g.Days = append(g.Days, cell)
	}
	return g
}

// sortForCell orders a cell's occurrences: all-day first, then by start,
// title and id.
func sortForCell(occs []model.Occurrence) {
	sort.SliceStable(occs, func(i, j int) bool {
		a, b := occs[i], occs[j]
		if a.AllDay != b.AllDay {
			return a.AllDay
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
}

// Weekdays returns the seven weekdays starting at firstDay.
func Weekdays(firstDay int) []time.Weekday {
	firstDay = normalizeFirstDay(firstDay)
	out := make([]time.Weekday, 7)
	for i := range out {
		out[i] = time.Weekday((firstDay + i) % 7)
	}
	return out
}

func normalizeFirstDay(d int) int {
	return ((d % 7) + 7) % 7
}
