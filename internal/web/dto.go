package web

import (
	"time"

	"kioskcal/internal/calendar"
	"kioskcal/internal/ics"
	"kioskcal/internal/layout"
	"kioskcal/internal/model"
	"kioskcal/internal/view"
)

const dateLayout = "2006-01-02"

// occurrenceDTO is a JSON-friendly view of an occurrence.
type occurrenceDTO struct {
	ID          string    `json:"id"`
	UID         string    `json:"uid"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	SourceName  string    `json:"source_name"`
	SourceColor string    `json:"source_color"`
}

func toOccurrenceDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		ID:          o.ID,
		UID:         o.UID,
		Title:       o.Title,
		Description: o.Description,
		Location:    o.Location,
		AllDay:      o.AllDay,
		Start:       o.Start,
		End:         o.End,
		SourceName:  o.SourceName,
		SourceColor: o.SourceColor,
	}
}

func toOccurrenceDTOs(occs []model.Occurrence) []occurrenceDTO {
	out := make([]occurrenceDTO, 0, len(occs))
	for _, o := range occs {
		out = append(out, toOccurrenceDTO(o))
	}
	return out
}

type dayCellDTO struct {
	Date          string          `json:"date"`
	Day           int             `json:"day"`
	Row           int             `json:"row"`
	Column        int             `json:"column"`
	IsToday       bool            `json:"is_today"`
	Occurrences   []occurrenceDTO `json:"occurrences"`
	Total         int             `json:"total"`
	OverflowCount int             `json:"overflow_count"`
}

type monthDTO struct {
	Year           int          `json:"year"`
	Month          int          `json:"month"`
	FirstDayOfWeek int          `json:"first_day_of_week"`
	LeadingBlanks  int          `json:"leading_blanks"`
	Rows           int          `json:"rows"`
	Weekdays       []string     `json:"weekdays"`
	Days           []dayCellDTO `json:"days"`
}

func toMonthDTO(g *layout.MonthGrid) *monthDTO {
	out := &monthDTO{
		Year:           g.Year,
		Month:          int(g.Month),
		FirstDayOfWeek: g.FirstDayOfWeek,
		LeadingBlanks:  g.LeadingBlanks,
		Rows:           g.Rows,
		Weekdays:       weekdayNames(g.Weekdays),
		Days:           make([]dayCellDTO, 0, len(g.Days)),
	}
	for i, c := range g.Days {
		out.Days = append(out.Days, dayCellDTO{
			Date:          c.Date.Format(dateLayout),
			Day:           c.Day,
			Row:           g.Row(i),
			Column:        g.Column(i),
			IsToday:       c.IsToday,
			Occurrences:   toOccurrenceDTOs(c.Occurrences),
			Total:         c.Total,
			OverflowCount: c.OverflowCount,
		})
	}
	return out
}

type placementDTO struct {
	Occurrence occurrenceDTO `json:"occurrence"`
	Column     int           `json:"column"`
	Hour       int           `json:"hour"`
	Top        float64       `json:"top"`
	Height     float64       `json:"height"`
}

type weekDTO struct {
	Start        string          `json:"start"`
	Days         []string        `json:"days"`
	HourHeight   float64         `json:"hour_height"`
	TodayColumn  int             `json:"today_column"`
	ScrollOffset float64         `json:"scroll_offset"`
	Placements   []placementDTO  `json:"placements"`
	AllDay       []occurrenceDTO `json:"all_day"`
}

func toWeekDTO(g *layout.WeekGrid) *weekDTO {
	out := &weekDTO{
		Start:        g.Start.Format(dateLayout),
		Days:         make([]string, 0, len(g.Days)),
		HourHeight:   g.HourHeight,
		TodayColumn:  g.TodayColumn,
		ScrollOffset: g.ScrollOffset,
		Placements:   make([]placementDTO, 0, len(g.Placements)),
		AllDay:       toOccurrenceDTOs(g.AllDay),
	}
	for _, d := range g.Days {
		out.Days = append(out.Days, d.Format(dateLayout))
	}
	for _, p := range g.Placements {
		out.Placements = append(out.Placements, placementDTO{
			Occurrence: toOccurrenceDTO(p.Occurrence),
			Column:     p.Column,
			Hour:       p.Hour,
			Top:        p.Top,
			Height:     p.Height,
		})
	}
	return out
}

// viewResponse is the JSON shape for /api/view and the navigation
// endpoints.
type viewResponse struct {
	Mode          model.Mode `json:"mode"`
	Anchor        string     `json:"anchor"`
	Title         string     `json:"title"`
	NotConfigured bool       `json:"not_configured"`
	Month         *monthDTO  `json:"month,omitempty"`
	Week          *weekDTO   `json:"week,omitempty"`
}

func toViewResponse(r view.Rendered) viewResponse {
	out := viewResponse{
		Mode:          r.Mode,
		Anchor:        r.Anchor.Format(dateLayout),
		Title:         r.Title,
		NotConfigured: r.NotConfigured,
	}
	if r.Month != nil {
		out.Month = toMonthDTO(r.Month)
	}
	if r.Week != nil {
		out.Week = toWeekDTO(r.Week)
	}
	return out
}

func weekdayNames(days []time.Weekday) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()[:3]
	}
	return out
}

type feedStatusDTO struct {
	Name        string   `json:"name"`
	URL         string   `json:"url"`
	Color       string   `json:"color"`
	OK          bool     `json:"ok"`
	Error       string   `json:"error,omitempty"`
	Occurrences int      `json:"occurrences"`
	FromCache   bool     `json:"from_cache"`
	Truncated   []string `json:"truncated_uids,omitempty"`
}

// feedsResponse is the JSON shape for /api/feeds and /api/refresh.
type feedsResponse struct {
	Refreshed     bool            `json:"refreshed"`
	NotConfigured bool            `json:"not_configured"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
	Occurrences   int             `json:"occurrences"`
	Feeds         []feedStatusDTO `json:"feeds"`
}

func toFeedsResponse(rep calendar.Report) feedsResponse {
	out := feedsResponse{
		Refreshed:     true,
		NotConfigured: rep.NotConfigured,
		StartedAt:     &rep.StartedAt,
		FinishedAt:    &rep.FinishedAt,
		Occurrences:   rep.Occurrences,
		Feeds:         make([]feedStatusDTO, 0, len(rep.Feeds)),
	}
	for _, f := range rep.Feeds {
		dto := feedStatusDTO{
			Name:        f.Source.Name,
			URL:         ics.RedactURL(f.Source.URL),
			Color:       f.Source.Color,
			OK:          f.Err == nil,
			Occurrences: f.Occurrences,
			FromCache:   f.FromCache,
			Truncated:   f.Truncated,
		}
		if f.Err != nil {
			dto.Error = f.Err.Error()
		}
		out.Feeds = append(out.Feeds, dto)
	}
	return out
}
