package calendar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kioskcal/internal/ics"
	"kioskcal/internal/model"
	"kioskcal/internal/store"
)

const threeEvents = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//kioskcal//test//EN
BEGIN:VEVENT
UID:e1
SUMMARY:Breakfast
DTSTART:20240102T080000Z
DTEND:20240102T090000Z
END:VEVENT
BEGIN:VEVENT
UID:e2
SUMMARY:School run
DTSTART:20240103T073000Z
DTEND:20240103T080000Z
END:VEVENT
BEGIN:VEVENT
UID:e3
SUMMARY:Holiday
DTSTART;VALUE=DATE:20240105
END:VEVENT
END:VCALENDAR
`

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestRefreshIsolatesFailingFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/good.ics" {
			_, _ = w.Write([]byte(crlf(threeEvents)))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	good := model.FeedSource{URL: srv.URL + "/good.ics", Name: "Family", Color: "#ff0000"}
	bad := model.FeedSource{URL: srv.URL + "/bad.ics", Name: "Work"}
	now := func() time.Time { return jan1 }

	st := store.New(time.UTC)
	svc := New(ics.NewFetcher(ics.FetcherOptions{Now: now}), st, Options{
		Sources: []model.FeedSource{good, bad},
		Now:     now,
	})

	var notified atomic.Int32
	svc.OnRefresh(func(Report) { notified.Add(1) })

	rep := svc.Refresh(context.Background())
	if st.Len() != 3 {
		t.Fatalf("store has %d occurrences, want 3", st.Len())
	}
	if rep.Occurrences != 3 || rep.NotConfigured {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.Feeds) != 2 {
		t.Fatalf("expected 2 feed statuses, got %d", len(rep.Feeds))
	}
	failed := rep.Failed()
	if len(failed) != 1 || failed[0].Source.URL != bad.URL {
		t.Fatalf("failed feeds = %+v", failed)
	}
	var fe *ics.FetchError
	if !errors.As(failed[0].Err, &fe) || fe.Status != http.StatusInternalServerError {
		t.Fatalf("expected FetchError 500, got %v", failed[0].Err)
	}
	if rep.Feeds[0].Occurrences != 3 {
		t.Fatalf("good feed status = %+v", rep.Feeds[0])
	}
	for _, o := range st.All() {
		if o.SourceName != "Family" || o.SourceColor != "#ff0000" {
			t.Fatalf("occurrence not tagged with its feed: %+v", o)
		}
	}
	if notified.Load() != 1 {
		t.Fatalf("listeners notified %d times", notified.Load())
	}
	if last, ok := svc.LastReport(); !ok || last.Occurrences != 3 {
		t.Fatalf("LastReport = %+v, %v", last, ok)
	}
}

type stubFetcher struct {
	results map[string]ics.FetchResult
	calls   int
}

func (f *stubFetcher) FetchAll(_ context.Context, _ []model.FeedSource) map[string]ics.FetchResult {
	f.calls++
	return f.results
}

func TestRefreshNotConfigured(t *testing.T) {
	f := &stubFetcher{}
	st := store.New(time.UTC)
	svc := New(f, st, Options{Now: func() time.Time { return jan1 }})

	rep := svc.Refresh(context.Background())
	if !rep.NotConfigured {
		t.Fatalf("expected NotConfigured")
	}
	if len(rep.Failed()) != 0 {
		t.Fatalf("not-configured is not a failure: %+v", rep)
	}
	if f.calls != 0 {
		t.Fatalf("fetcher should not be called without feeds")
	}
	if !svc.NotConfigured() {
		t.Fatalf("NotConfigured() = false")
	}
}

func TestRefreshTreatsParseErrorAsEmptyFeed(t *testing.T) {
	src := model.FeedSource{URL: "https://example.com/broken.ics", Name: "Broken"}
	ok := model.FeedSource{URL: "https://example.com/ok.ics", Name: "Ok"}
	f := &stubFetcher{results: map[string]ics.FetchResult{
		src.URL: {Source: src, Doc: &model.Document{URL: src.URL, Body: []byte("<html>oops</html>")}},
		ok.URL:  {Source: ok, Doc: &model.Document{URL: ok.URL, Body: []byte(crlf(threeEvents))}, FromCache: true},
	}}
	st := store.New(time.UTC)
	svc := New(f, st, Options{
		Sources: []model.FeedSource{src, ok},
		Now:     func() time.Time { return jan1 },
	})

	rep := svc.Refresh(context.Background())
	var pe *ics.ParseError
	if !errors.As(rep.Feeds[0].Err, &pe) {
		t.Fatalf("expected ParseError, got %v", rep.Feeds[0].Err)
	}
	if !rep.Feeds[1].FromCache || rep.Feeds[1].Occurrences != 3 {
		t.Fatalf("ok feed status = %+v", rep.Feeds[1])
	}
	if st.Len() != 3 {
		t.Fatalf("store has %d occurrences, want 3", st.Len())
	}
}

func TestRefreshHonoursHorizonAndCap(t *testing.T) {
	src := model.FeedSource{URL: "https://example.com/daily.ics"}
	body := crlf(`BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:daily
SUMMARY:Walk the dog
DTSTART:20240101T070000Z
DTEND:20240101T073000Z
RRULE:FREQ=DAILY
END:VEVENT
END:VCALENDAR
`)
	f := &stubFetcher{results: map[string]ics.FetchResult{
		src.URL: {Source: src, Doc: &model.Document{URL: src.URL, Body: []byte(body)}},
	}}

	st := store.New(time.UTC)
	svc := New(f, st, Options{
		Sources:        []model.FeedSource{src},
		HorizonDays:    10,
		MaxOccurrences: 50,
		Now:            func() time.Time { return jan1 },
	})
	rep := svc.Refresh(context.Background())
	if st.Len() != 10 {
		t.Fatalf("expected 10 daily instances inside a 10 day horizon, got %d", st.Len())
	}
	if len(rep.Feeds[0].Truncated) != 0 {
		t.Fatalf("horizon stop reported as truncation")
	}

	svc = New(f, st, Options{
		Sources:        []model.FeedSource{src},
		MaxOccurrences: 5,
		Now:            func() time.Time { return jan1 },
	})
	rep = svc.Refresh(context.Background())
	if st.Len() != 5 || len(rep.Feeds[0].Truncated) != 1 {
		t.Fatalf("cap not applied: len=%d report=%+v", st.Len(), rep.Feeds[0])
	}
}

func TestRefreshDefaultHorizonIsOneCalendarYear(t *testing.T) {
	src := model.FeedSource{URL: "https://example.com/nye.ics"}
	body := crlf(`BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
UID:nye
SUMMARY:New Year's Eve lunch
DTSTART:20241231T120000Z
DTEND:20241231T130000Z
END:VEVENT
END:VCALENDAR
`)
	f := &stubFetcher{results: map[string]ics.FetchResult{
		src.URL: {Source: src, Doc: &model.Document{URL: src.URL, Body: []byte(body)}},
	}}

	// 2024 is a leap year: Dec 31 lies past 365 days but inside one year.
	st := store.New(time.UTC)
	New(f, st, Options{
		Sources: []model.FeedSource{src},
		Now:     func() time.Time { return jan1 },
	}).Refresh(context.Background())
	if st.Len() != 1 {
		t.Fatalf("default horizon should reach Dec 31, got %d occurrences", st.Len())
	}

	New(f, st, Options{
		Sources:     []model.FeedSource{src},
		HorizonDays: 365,
		Now:         func() time.Time { return jan1 },
	}).Refresh(context.Background())
	if st.Len() != 0 {
		t.Fatalf("explicit 365 day horizon should stop at Dec 31 00:00, got %d", st.Len())
	}
}
