package ics

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

const (
	// DefaultMaxOccurrences caps the instances emitted per recurring event.
	DefaultMaxOccurrences = 100

	// maxIterations bounds the walk through a series whose instances are
	// mostly in the past (or a rule that never yields).
	maxIterations = 100000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Now separates past from current events. Zero means time.Now().
	Now time.Time

	// HorizonEnd stops recurrence iteration. Zero means Now + 1 year.
	HorizonEnd time.Time

	// MaxOccurrences is the per-template emission cap. Zero means
	// DefaultMaxOccurrences.
	MaxOccurrences int

	// Location anchors all-day dates and floating times. Nil means
	// time.Local.
	Location *time.Location
}

func (c ExpandConfig) withDefaults() ExpandConfig {
	if c.Now.IsZero() {
		c.Now = time.Now()
	}
	if c.HorizonEnd.IsZero() {
		c.HorizonEnd = c.Now.AddDate(1, 0, 0)
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = DefaultMaxOccurrences
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// ExpandResult wraps the expanded occurrences and the UIDs whose series
// were cut short by the cap.
type ExpandResult struct {
	Occurrences []model.Occurrence
	Truncated   []string
}

// ExpandDocument parses doc and expands it. A malformed document yields an
// empty result and a *ParseError.
func ExpandDocument(doc model.Document, src model.FeedSource, cfg ExpandConfig) (ExpandResult, error) {
	cfg = cfg.withDefaults()
	templates, err := ParseICS(src, doc.Body, cfg.Location)
	if err != nil {
		return ExpandResult{}, err
	}
	return Expand(templates, src, cfg), nil
}

// Expand turns templates into concrete occurrences:
//
//   - single events are kept when End >= Now and Start <= HorizonEnd
//   - series are walked in chronological order until MaxOccurrences have
//     been emitted or a start passes HorizonEnd; instances that already
//     ended are skipped
//   - EXDATE removes instances, RDATE adds them, RECURRENCE-ID overrides
//     replace the matching instance
//
// Output per template is in start order; templates keep their input order.
func Expand(templates []model.EventTemplate, src model.FeedSource, cfg ExpandConfig) ExpandResult {
	cfg = cfg.withDefaults()
	var result ExpandResult

	overrides := make(map[string][]model.EventTemplate)
	for _, t := range templates {
		if t.RecurrenceID != nil {
			overrides[t.UID] = append(overrides[t.UID], t)
		}
	}

	for _, t := range templates {
		if t.RecurrenceID != nil {
			// Standalone override without a master in this feed.
			if !hasMaster(templates, t.UID) {
				if occ, ok := expandSingle(t, src, cfg); ok {
					result.Occurrences = append(result.Occurrences, occ)
				}
			}
			continue
		}
		if !t.Recurring() {
			if occ, ok := expandSingle(t, src, cfg); ok {
				result.Occurrences = append(result.Occurrences, occ)
			}
			continue
		}

		occs, hitCap := expandSeries(t, overrides[t.UID], src, cfg)
		result.Occurrences = append(result.Occurrences, occs...)
		if hitCap {
			result.Truncated = append(result.Truncated, t.UID)
			appLog.Debug("expand: series truncated at cap", "uid", t.UID, "cap", cfg.MaxOccurrences)
		}
	}

	return result
}

func hasMaster(templates []model.EventTemplate, uid string) bool {
	for _, t := range templates {
		if t.UID == uid && t.RecurrenceID == nil {
			return true
		}
	}
	return false
}

func expandSingle(t model.EventTemplate, src model.FeedSource, cfg ExpandConfig) (model.Occurrence, bool) {
	occ := makeOccurrence(t, t.Start, src, false)
	if occ.End.Before(cfg.Now) || occ.Start.After(cfg.HorizonEnd) {
		return model.Occurrence{}, false
	}
	return occ, true
}

func expandSeries(t model.EventTemplate, overrides []model.EventTemplate, src model.FeedSource, cfg ExpandConfig) ([]model.Occurrence, bool) {
	next, ok := seriesIterator(t)
	if !ok {
		occ, keep := expandSingle(t, src, cfg)
		if !keep {
			return nil, false
		}
		return []model.Occurrence{occ}, false
	}

	out := make([]model.Occurrence, 0)
	var last time.Time
	for i := 0; i < maxIterations; i++ {
		start, more := next()
		if !more {
			return out, false
		}
		if start.After(cfg.HorizonEnd) {
			return out, false
		}
		// The set may yield DTSTART twice when it also matches the rule.
		if !last.IsZero() && !start.After(last) {
			continue
		}
		last = start

		instanceStart := start
		if t.AllDay {
			instanceStart = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, cfg.Location)
		}
		base, occStart := t, instanceStart
		if o, found := findOverride(overrides, start); found {
			base, occStart = o, o.Start
			base.UID = t.UID
		}

		occ := makeOccurrence(base, occStart, src, true)
		// A moved instance keeps the id of the slot it replaces.
		occ.ID = model.OccurrenceID(t.UID, instanceStart, true)
		if occ.End.Before(cfg.Now) {
			continue
		}
		out = append(out, occ)
		if len(out) >= cfg.MaxOccurrences {
			return out, true
		}
	}

	appLog.Warn("expand: iteration limit reached", "uid", t.UID, "rrule", t.RRule)
	return out, false
}

// seriesIterator builds a chronological iterator over the series start
// times. It reports false when the RRULE cannot be parsed.
func seriesIterator(t model.EventTemplate) (func() (time.Time, bool), bool) {
	var set rrule.Set
	set.DTStart(t.Start)

	if t.RRule != "" {
		// Floating and date-only UNTIL values are local to the series.
		opt, err := rrule.StrToROptionInLocation(t.RRule, t.Start.Location())
		if err != nil {
			appLog.Error("expand: failed to parse RRULE", err, "uid", t.UID, "rrule", t.RRule)
			return nil, false
		}
		opt.Dtstart = t.Start
		if dateOnlyUntil(t.RRule) && !opt.Until.IsZero() {
			// UNTIL is inclusive: a date covers the whole day.
			opt.Until = opt.Until.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		r, err := rrule.NewRRule(*opt)
		if err != nil {
			appLog.Error("expand: invalid RRULE", err, "uid", t.UID, "rrule", t.RRule)
			return nil, false
		}
		set.RRule(r)
	}

	// DTSTART is always the first instance of an iCalendar series.
	set.RDate(t.Start)
	for _, d := range t.RDates {
		set.RDate(d)
	}
	for _, ex := range t.ExDates {
		set.ExDate(ex.In(t.Start.Location()))
	}
	return set.Iterator(), true
}

// dateOnlyUntil reports whether the rule's UNTIL is a DATE value.
func dateOnlyUntil(rule string) bool {
	for _, part := range strings.Split(strings.TrimPrefix(rule, "RRULE:"), ";") {
		key, value, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(key, "UNTIL") {
			return !strings.ContainsRune(value, 'T')
		}
	}
	return false
}

func findOverride(overrides []model.EventTemplate, start time.Time) (model.EventTemplate, bool) {
	for _, o := range overrides {
		if o.RecurrenceID != nil && o.RecurrenceID.Equal(start) {
			return o, true
		}
	}
	return model.EventTemplate{}, false
}

// makeOccurrence materializes one instance of t starting at start.
func makeOccurrence(t model.EventTemplate, start time.Time, src model.FeedSource, recurring bool) model.Occurrence {
	return model.Occurrence{
		ID:          model.OccurrenceID(t.UID, start, recurring),
		UID:         t.UID,
		Title:       t.Title,
		Description: t.Description,
		Location:    t.Location,
		Start:       start,
		End:         occurrenceEnd(t, start),
		AllDay:      t.AllDay,
		SourceName:  src.Name,
		SourceColor: src.Color,
		SourceURL:   src.URL,
	}
}

// occurrenceEnd is Start + Duration. All-day instances span whole calendar
// days and end on the last instant of their final day, so a one-day event
// never touches the following day.
func occurrenceEnd(t model.EventTemplate, start time.Time) time.Time {
	if !t.AllDay {
		return start.Add(t.Duration)
	}
	days := int((t.Duration + 12*time.Hour) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return start.AddDate(0, 0, days).Add(-time.Nanosecond)
}
