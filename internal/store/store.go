// Package store holds the merged, time-sorted set of occurrences the views
// read from. Rebuilds swap the whole snapshot, so readers only ever see a
// complete previous or complete next state.
package store

import (
	"sort"
	"sync"
	"time"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

// FeedResult is the expanded outcome of one feed. A feed with Err set
// contributes nothing to the snapshot.
type FeedResult struct {
	Occurrences []model.Occurrence
	Err         error
}

// Store is safe for concurrent use.
type Store struct {
	loc *time.Location
	now func() time.Time

	mu        sync.RWMutex
	occs      []model.Occurrence
	byID      map[string]int
	updatedAt time.Time
}

// New creates an empty store. Day, week and month boundaries are computed
// in loc (time.Local when nil).
func New(loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{
		loc:  loc,
		now:  time.Now,
		byID: map[string]int{},
	}
}

// Location returns the zone used for period boundaries.
func (s *Store) Location() *time.Location { return s.loc }

// Rebuild replaces the snapshot with the occurrences of every successful
// feed. Feeds are merged in URL order, duplicate ids keep their first
// occurrence, and the result is sorted by start (ties by id). It returns
// the number of occurrences stored.
func (s *Store) Rebuild(results map[string]FeedResult) int {
	urls := make([]string, 0, len(results))
	for u := range results {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	seen := make(map[string]bool)
	merged := make([]model.Occurrence, 0)
	dupes := 0
	for _, u := range urls {
		r := results[u]
		if r.Err != nil {
			continue
		}
		for _, occ := range r.Occurrences {
			if seen[occ.ID] {
				dupes++
				continue
			}
			seen[occ.ID] = true
			merged = append(merged, occ)
		}
	}
	if dupes > 0 {
		appLog.Warn("store: duplicate occurrence ids dropped", "count", dupes)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.ID < b.ID
	})

	byID := make(map[string]int, len(merged))
	for i, occ := range merged {
		byID[occ.ID] = i
	}

	s.mu.Lock()
	s.occs = merged
	s.byID = byID
	s.updatedAt = s.now()
	s.mu.Unlock()

	appLog.Debug("store: rebuilt", "feeds", len(results), "occurrences", len(merged))
	return len(merged)
}

// Between returns the occurrences intersecting [start, end], inclusive on
// both ends, in store order.
func (s *Store) Between(start, end time.Time) []model.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Occurrence, 0)
	for _, occ := range s.occs {
		// Sorted by start: nothing later can intersect.
		if occ.Start.After(end) {
			break
		}
		if !occ.End.Before(start) {
			out = append(out, occ)
		}
	}
	return out
}

// QueryDay returns the occurrences intersecting the calendar day of date.
func (s *Store) QueryDay(date time.Time) []model.Occurrence {
	start := DayStart(date.In(s.loc))
	return s.Between(start, periodEnd(start.AddDate(0, 0, 1)))
}

// QueryWeek returns the occurrences intersecting the 7-day week containing
// date. firstDay is 0 for Sunday, 1 for Monday.
func (s *Store) QueryWeek(date time.Time, firstDay int) []model.Occurrence {
	start := WeekStart(date.In(s.loc), firstDay)
	return s.Between(start, periodEnd(start.AddDate(0, 0, 7)))
}

// QueryMonth returns the occurrences intersecting the given month.
func (s *Store) QueryMonth(year int, month time.Month) []model.Occurrence {
	start, end := MonthBounds(year, month, s.loc)
	return s.Between(start, end)
}

// Find looks up an occurrence by id.
func (s *Store) Find(id string) (model.Occurrence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return model.Occurrence{}, false
	}
	return s.occs[i], true
}

// All returns a copy of the current snapshot.
func (s *Store) All() []model.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Occurrence, len(s.occs))
	copy(out, s.occs)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.occs)
}

// UpdatedAt is the time of the last Rebuild; zero before the first one.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// DayStart returns midnight of t's calendar day in t's location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WeekStart returns midnight of the first day of the week containing t.
func WeekStart(t time.Time, firstDay int) time.Time {
	day := DayStart(t)
	offset := (int(day.Weekday()) - firstDay + 7) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthBounds returns the first instant and the last nanosecond of a month.
func MonthBounds(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, periodEnd(start.AddDate(0, 1, 0))
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func periodEnd(next time.Time) time.Time {
	return next.Add(-time.Nanosecond)
}
