package model

import (
	"fmt"
	"strings"
	"time"
)

// FeedSource is one configured calendar subscription.
type FeedSource struct {
	URL   string
	Name  string
	Color string
}

// Document is the raw calendar text of one feed plus its fetch metadata.
// It is replaced wholesale on every successful fetch.
type Document struct {
	URL       string
	Body      []byte
	FetchedAt time.Time

	// HTTP validators, used for conditional refetches.
	ETag         string
	LastModified string
}

// EventTemplate represents a logical VEVENT before recurrence expansion.
type EventTemplate struct {
	UID string

	Title       string
	Description string
	Location    string

	// Start is the declared DTSTART. For all-day templates it is midnight
	// in the display location.
	Start    time.Time
	Duration time.Duration
	AllDay   bool

	// RRule is the raw RRULE value; empty for single events.
	RRule   string
	RDates  []time.Time
	ExDates []time.Time

	// RecurrenceID is set on an override VEVENT and names the series
	// instance it replaces.
	RecurrenceID *time.Time
}

// Recurring reports whether the template describes a series.
func (t EventTemplate) Recurring() bool {
	return t.RRule != "" || len(t.RDates) > 0
}

// Occurrence represents a single concrete instance of an event, ready for
// display.
type Occurrence struct {
	// ID is the template UID, suffixed with "-<unix start>" for instances
	// of a recurring series.
	ID  string
	UID string

	Title       string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	SourceName  string
	SourceColor string
	SourceURL   string
}

// OccurrenceID derives the display id of an occurrence.
func OccurrenceID(uid string, start time.Time, recurring bool) string {
	if !recurring {
		return uid
	}
	return fmt.Sprintf("%s-%d", uid, start.Unix())
}

// Mode is the calendar view mode.
type Mode string

const (
	ModeMonth Mode = "month"
	ModeWeek  Mode = "week"
)

// ParseMode accepts "month" or "week" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMonth:
		return ModeMonth, nil
	case ModeWeek:
		return ModeWeek, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}
