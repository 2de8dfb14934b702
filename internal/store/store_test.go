package store

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"kioskcal/internal/model"
)

func occ(id string, start time.Time, d time.Duration) model.Occurrence {
	return model.Occurrence{ID: id, UID: id, Title: id, Start: start, End: start.Add(d)}
}

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func ids(occs []model.Occurrence) []string {
	out := make([]string, 0, len(occs))
	for _, o := range occs {
		out = append(out, o.ID)
	}
	return out
}

func TestRebuildMergesSortsAndSkipsFailures(t *testing.T) {
	s := New(time.UTC)
	fixed := at(2024, 2, 1, 8, 0)
	s.now = func() time.Time { return fixed }

	results := map[string]FeedResult{
		"https://b.example/cal.ics": {Occurrences: []model.Occurrence{
			occ("b2", at(2024, 2, 3, 9, 0), time.Hour),
			occ("b1", at(2024, 2, 1, 9, 0), time.Hour),
		}},
		"https://a.example/cal.ics": {Occurrences: []model.Occurrence{
			occ("a1", at(2024, 2, 1, 9, 0), time.Hour),
			occ("a2", at(2024, 2, 2, 9, 0), time.Hour),
		}},
		"https://broken.example/cal.ics": {Err: errors.New("HTTP 500")},
	}

	if n := s.Rebuild(results); n != 4 {
		t.Fatalf("Rebuild stored %d, want 4", n)
	}
	want := []string{"a1", "b1", "a2", "b2"}
	if got := ids(s.All()); !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	if !s.UpdatedAt().Equal(fixed) {
		t.Fatalf("UpdatedAt = %v", s.UpdatedAt())
	}

	first := s.All()
	s.Rebuild(results)
	if !reflect.DeepEqual(first, s.All()) {
		t.Fatalf("rebuild with identical input is not idempotent")
	}
}

func TestRebuildDropsDuplicateIDs(t *testing.T) {
	s := New(time.UTC)
	start := at(2024, 2, 1, 9, 0)
	s.Rebuild(map[string]FeedResult{
		"a": {Occurrences: []model.Occurrence{occ("dup", start, time.Hour)}},
		"b": {Occurrences: []model.Occurrence{
			func() model.Occurrence { o := occ("dup", start, time.Hour); o.Title = "second"; return o }(),
			occ("other", start, time.Hour),
		}},
	})
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	got, ok := s.Find("dup")
	if !ok || got.Title != "dup" {
		t.Fatalf("first duplicate should win, got %+v", got)
	}
	if _, ok := s.Find("missing"); ok {
		t.Fatalf("Find on unknown id should fail")
	}
}

func TestRebuildEmptiesOnAllFailures(t *testing.T) {
	s := New(time.UTC)
	s.Rebuild(map[string]FeedResult{"a": {Occurrences: []model.Occurrence{occ("x", at(2024, 1, 1, 0, 0), 0)}}})
	s.Rebuild(map[string]FeedResult{"a": {Err: errors.New("down")}})
	if s.Len() != 0 {
		t.Fatalf("expected empty store after failed refresh, got %d", s.Len())
	}
}

func TestQueryDayIntersection(t *testing.T) {
	s := New(time.UTC)
	s.Rebuild(map[string]FeedResult{"a": {Occurrences: []model.Occurrence{
		occ("multi", at(2024, 2, 9, 18, 0), 3*24*time.Hour),
		occ("morning", at(2024, 2, 10, 7, 0), time.Hour),
		occ("late", at(2024, 2, 10, 23, 59), time.Minute),
		occ("next", at(2024, 2, 11, 0, 0), time.Hour),
		occ("before", at(2024, 2, 9, 9, 0), time.Hour),
	}}})

	got := ids(s.QueryDay(at(2024, 2, 10, 15, 0)))
	want := []string{"multi", "morning", "late"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("QueryDay = %v, want %v", got, want)
	}
}

func TestQueryWeekHonoursFirstDay(t *testing.T) {
	s := New(time.UTC)
	s.Rebuild(map[string]FeedResult{"a": {Occurrences: []model.Occurrence{
		occ("sun11", at(2024, 2, 11, 10, 0), time.Hour),
		occ("wed14", at(2024, 2, 14, 10, 0), time.Hour),
		occ("sun18", at(2024, 2, 18, 10, 0), time.Hour),
	}}})
	wed := at(2024, 2, 14, 12, 0)

	if got := ids(s.QueryWeek(wed, 1)); !reflect.DeepEqual(got, []string{"wed14", "sun18"}) {
		t.Fatalf("monday week = %v", got)
	}
	if got := ids(s.QueryWeek(wed, 0)); !reflect.DeepEqual(got, []string{"sun11", "wed14"}) {
		t.Fatalf("sunday week = %v", got)
	}
}

func TestQueryMonthBoundaries(t *testing.T) {
	s := New(time.UTC)
	s.Rebuild(map[string]FeedResult{"a": {Occurrences: []model.Occurrence{
		occ("spill-in", at(2024, 1, 31, 23, 0), 2*time.Hour),
		occ("leap", at(2024, 2, 29, 12, 0), time.Hour),
		occ("march", at(2024, 3, 1, 0, 0), time.Hour),
		occ("january", at(2024, 1, 15, 12, 0), time.Hour),
	}}})
	got := ids(s.QueryMonth(2024, time.February))
	if !reflect.DeepEqual(got, []string{"spill-in", "leap"}) {
		t.Fatalf("QueryMonth = %v", got)
	}
}

func TestQueriesUseStoreLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	s := New(loc)
	// 2024-02-10 20:00 UTC is 2024-02-11 06:00 in UTC+10.
	s.Rebuild(map[string]FeedResult{"a": {Occurrences: []model.Occurrence{
		occ("x", at(2024, 2, 10, 20, 0), time.Hour),
	}}})
	if got := s.QueryDay(time.Date(2024, 2, 11, 12, 0, 0, 0, loc)); len(got) != 1 {
		t.Fatalf("expected event on local day, got %v", ids(got))
	}
	if got := s.QueryDay(time.Date(2024, 2, 10, 12, 0, 0, 0, loc)); len(got) != 0 {
		t.Fatalf("expected no event on previous local day, got %v", ids(got))
	}
}

func TestWeekStart(t *testing.T) {
	cases := []struct {
		date     time.Time
		firstDay int
		want     time.Time
	}{
		{at(2024, 2, 14, 12, 0), 0, at(2024, 2, 11, 0, 0)},
		{at(2024, 2, 14, 12, 0), 1, at(2024, 2, 12, 0, 0)},
		{at(2024, 2, 11, 0, 0), 1, at(2024, 2, 5, 0, 0)},
		{at(2024, 2, 11, 23, 0), 0, at(2024, 2, 11, 0, 0)},
		{at(2024, 1, 2, 5, 0), 1, at(2024, 1, 1, 0, 0)},
	}
	for _, c := range cases {
		if got := WeekStart(c.date, c.firstDay); !got.Equal(c.want) {
			t.Errorf("WeekStart(%v, %d) = %v, want %v", c.date, c.firstDay, got, c.want)
		}
	}
}

func TestMonthBounds(t *testing.T) {
	start, end := MonthBounds(2023, time.December, time.UTC)
	if !start.Equal(at(2023, 12, 1, 0, 0)) {
		t.Fatalf("start = %v", start)
	}
	if want := at(2024, 1, 1, 0, 0).Add(-time.Nanosecond); !end.Equal(want) {
		t.Fatalf("end = %v, want %v", end, want)
	}
}
