package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

// ParseError reports a feed document that could not be read as a calendar.
// The feed contributes zero occurrences; it is not retried automatically.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", RedactURL(e.URL), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseICS parses a single iCalendar payload into event templates.
//
//   - All-day events are detected from the DTSTART value format and are
//     anchored at midnight in loc.
//   - Floating times (no TZID, no Z) are interpreted in loc.
//   - RRULE/RDATE/EXDATE are recorded but not expanded; see Expand.
//   - A VEVENT without UID or DTSTART is logged and skipped.
func ParseICS(src model.FeedSource, body []byte, loc *time.Location) ([]model.EventTemplate, error) {
	if loc == nil {
		loc = time.Local
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{URL: src.URL, Err: errors.New("empty calendar body")}
	}
	if !bytes.Contains(body, []byte("BEGIN:VCALENDAR")) {
		return nil, &ParseError{URL: src.URL, Err: errors.New("missing BEGIN:VCALENDAR")}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "name", src.Name, "url", RedactURL(src.URL))
		return nil, &ParseError{URL: src.URL, Err: err}
	}

	templates := make([]model.EventTemplate, 0)
	for _, ve := range cal.Events() {
		tpl, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "name", src.Name, "url", RedactURL(src.URL), "reason", perr.Error())
			continue
		}
		templates = append(templates, tpl)
	}

	appLog.Debug("ics parse completed", "name", src.Name, "url", RedactURL(src.URL), "event_count", len(templates))
	return templates, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.EventTemplate, error) {
	var out model.EventTemplate

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	out.Title = "(No title)"
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil && p.Value != "" {
		out.Title = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, _, err := propTime(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.Duration = end.Sub(start)
	case ve.GetProperty("DURATION") != nil:
		d, err := parseDuration(ve.GetProperty("DURATION").Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		out.Duration = d
	case allDay:
		out.Duration = 24 * time.Hour
	}
	if out.Duration < 0 {
		out.Duration = 0
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = strings.TrimSpace(p.Value)
	}
	out.ExDates = propTimes(ve.GetProperties(ical.ComponentPropertyExdate), loc)
	out.RDates = propTimes(ve.GetProperties("RDATE"), loc)

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		rid, _, err := propTime(p.Value, p.ICalParameters, loc)
		if err != nil {
			return out, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		out.RecurrenceID = &rid
	}

	return out, nil
}

// propTimes collects every value of a multi-valued date property such as
// EXDATE (comma separated, may repeat).
func propTimes(props []*ical.IANAProperty, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := propTime(part, p.ICalParameters, loc)
			if err != nil {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// propTime parses an iCalendar DATE or DATE-TIME value honouring the TZID
// and VALUE parameters. The bool result reports a date-only value.
func propTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	dateOnly := !strings.Contains(v, "T")
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		dateOnly = true
	}
	if dateOnly {
		if len(v) > 8 {
			v = v[:8]
		}
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}

	// UTC form, e.g. 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	zone := loc
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		name := strings.Trim(tzs[0], `"`)
		if l, err := time.LoadLocation(name); err == nil {
			zone = l
		} else {
			appLog.Debug("ics unknown TZID; using display zone", "tzid", name)
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, zone)
	return t, false, err
}

// parseDuration reads an RFC 5545 dur-value such as "PT1H30M", "P1D" or
// "-P2W".
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""
		unit := time.Duration(n)
		switch {
		case r == 'W' && !inTime:
			total += unit * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += unit * 24 * time.Hour
		case r == 'H' && inTime:
			total += unit * time.Hour
		case r == 'M' && inTime:
			total += unit * time.Minute
		case r == 'S' && inTime:
			total += unit * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
