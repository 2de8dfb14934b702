// Package calendar runs the refresh pipeline: fetch every feed, expand each
// document into occurrences and rebuild the event store.
package calendar

import (
	"context"
	"errors"
	"sync"
	"time"

	"kioskcal/internal/ics"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
	"kioskcal/internal/store"
)

// Fetcher is satisfied by *ics.Fetcher.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []model.FeedSource) map[string]ics.FetchResult
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Sources []model.FeedSource

	// Location anchors all-day dates and floating times.
	Location *time.Location

	// HorizonDays bounds recurrence expansion. Zero means one calendar
	// year from now.
	HorizonDays int

	// MaxOccurrences caps each recurring series (default 100).
	MaxOccurrences int

	Now func() time.Time
}

// FeedStatus is the outcome of one feed in a refresh.
type FeedStatus struct {
	Source      model.FeedSource
	Occurrences int
	FromCache   bool
	Truncated   []string
	Err         error
}

// Report summarises one refresh.
type Report struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Feeds       []FeedStatus
	Occurrences int

	// NotConfigured is set when there are no feeds at all. It is a state to
	// show the user, not an error.
	NotConfigured bool
}

// Failed returns the feeds that contributed nothing because of an error.
func (r Report) Failed() []FeedStatus {
	var out []FeedStatus
	for _, f := range r.Feeds {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Service owns the pipeline from feed sources to the store.
type Service struct {
	fetcher Fetcher
	store   *store.Store
	opts    Options

	// refreshMu serialises whole refreshes so a manual refresh and a
	// scheduled one never interleave their rebuilds.
	refreshMu sync.Mutex

	mu        sync.RWMutex
	last      Report
	haveLast  bool
	listeners []func(Report)
}

// New creates a Service. The store's location is used when opts.Location
// is nil.
func New(fetcher Fetcher, st *store.Store, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = st.Location()
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = ics.DefaultMaxOccurrences
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		fetcher: fetcher,
		store:   st,
		opts:    opts,
	}
}

// Store returns the store the service rebuilds.
func (s *Service) Store() *store.Store { return s.store }

// Sources returns the configured feeds.
func (s *Service) Sources() []model.FeedSource {
	out := make([]model.FeedSource, len(s.opts.Sources))
	copy(out, s.opts.Sources)
	return out
}

// NotConfigured reports whether no feed is configured.
func (s *Service) NotConfigured() bool {
	return len(s.opts.Sources) == 0
}

// OnRefresh registers fn to be called after every completed refresh.
func (s *Service) OnRefresh(fn func(Report)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LastReport returns the report of the most recent refresh.
func (s *Service) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.haveLast
}

// Refresh fetches all feeds, expands them and rebuilds the store. Feed
// failures are reported per feed; the refresh as a whole never fails.
func (s *Service) Refresh(ctx context.Context) Report {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	rep := Report{StartedAt: s.opts.Now()}

	if s.NotConfigured() {
		appLog.Info("calendar refresh: no feeds configured")
		s.store.Rebuild(nil)
		rep.NotConfigured = true
		rep.FinishedAt = s.opts.Now()
		s.publish(rep)
		return rep
	}

	fetched := s.fetcher.FetchAll(ctx, s.opts.Sources)

	now := s.opts.Now()
	cfg := ics.ExpandConfig{
		Now:            now,
		HorizonEnd:     s.horizonEnd(now),
		MaxOccurrences: s.opts.MaxOccurrences,
		Location:       s.opts.Location,
	}

	results := make(map[string]store.FeedResult, len(fetched))
	seen := make(map[string]bool, len(s.opts.Sources))
	for _, src := range s.opts.Sources {
		if seen[src.URL] {
			continue
		}
		seen[src.URL] = true

		st := FeedStatus{Source: src}
		fr, ok := fetched[src.URL]
		switch {
		case !ok:
			st.Err = &ics.FetchError{URL: src.URL, Err: errors.New("no fetch result")}
		case fr.Err != nil:
			st.Err = fr.Err
		default:
			st.FromCache = fr.FromCache
			res, err := ics.ExpandDocument(*fr.Doc, src, cfg)
			if err != nil {
				st.Err = err
				break
			}
			st.Occurrences = len(res.Occurrences)
			st.Truncated = res.Truncated
			results[src.URL] = store.FeedResult{Occurrences: res.Occurrences}
		}
		if st.Err != nil {
			appLog.Error("calendar feed failed", st.Err, "name", src.Name)
			results[src.URL] = store.FeedResult{Err: st.Err}
		}
		rep.Feeds = append(rep.Feeds, st)
	}

	rep.Occurrences = s.store.Rebuild(results)
	rep.FinishedAt = s.opts.Now()

	appLog.Info("calendar refresh completed",
		"feeds", len(rep.Feeds),
		"failed", len(rep.Failed()),
		"occurrences", rep.Occurrences,
		"took", rep.FinishedAt.Sub(rep.StartedAt),
	)
	s.publish(rep)
	return rep
}

func (s *Service) horizonEnd(now time.Time) time.Time {
	if s.opts.HorizonDays <= 0 {
		return now.AddDate(1, 0, 0)
	}
	return now.AddDate(0, 0, s.opts.HorizonDays)
}

func (s *Service) publish(rep Report) {
	s.mu.Lock()
	s.last = rep
	s.haveLast = true
	listeners := append([]func(Report){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(rep)
	}
}
