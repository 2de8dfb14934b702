package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

const (
	defaultFetchTimeout     = 15 * time.Second
	defaultRefreshInterval  = 30 * time.Minute
	defaultFetchConcurrency = 4

	// maxBodyBytes guards against feeds that never end.
	maxBodyBytes = 16 << 20
)

// FetchError is a per-feed network or HTTP failure.
type FetchError struct {
	URL    string
	Status int // 0 for transport errors
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", RedactURL(e.URL), e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", RedactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchResult contains the outcome of fetching a single feed. Exactly one
// of Doc and Err is set.
type FetchResult struct {
	Source    model.FeedSource
	Doc       *model.Document
	FromCache bool // true if served from a fresh cache entry or a 304
	Err       error
}

// DocumentCache stores the last successfully fetched document per feed URL.
type DocumentCache interface {
	Get(ctx context.Context, url string) (model.Document, bool, error)
	Put(ctx context.Context, doc model.Document) error
}

// MemoryCache is the default in-process DocumentCache.
type MemoryCache struct {
	mu   sync.RWMutex
	docs map[string]model.Document
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{docs: make(map[string]model.Document)}
}

func (c *MemoryCache) Get(_ context.Context, url string) (model.Document, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[url]
	return doc, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, doc model.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[doc.URL] = doc
	return nil
}

// FetcherOptions configures a Fetcher. Zero values select defaults.
type FetcherOptions struct {
	// RefreshInterval is how long a fetched document is served from cache
	// without touching the network.
	RefreshInterval time.Duration
	Timeout         time.Duration
	Concurrency     int

	Cache  DocumentCache
	Client *http.Client
	Now    func() time.Time
}

// Fetcher retrieves calendar feeds with time-boxed per-feed caching.
type Fetcher struct {
	client      *http.Client
	cache       DocumentCache
	ttl         time.Duration
	concurrency int
	now         func() time.Time
}

// NewFetcher creates a new feed Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = defaultRefreshInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultFetchTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultFetchConcurrency
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fetcher{
		client:      opts.Client,
		cache:       opts.Cache,
		ttl:         opts.RefreshInterval,
		concurrency: opts.Concurrency,
		now:         opts.Now,
	}
}

// FetchAll fetches every source concurrently and waits for all of them to
// settle. One failing or slow feed never prevents the others from
// completing, and the call itself never fails: errors are reported per URL.
func (f *Fetcher) FetchAll(ctx context.Context, sources []model.FeedSource) map[string]FetchResult {
	results := make(map[string]FetchResult, len(sources))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(f.concurrency)

	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if seen[src.URL] {
			continue
		}
		seen[src.URL] = true

		g.Go(func() error {
			res := f.FetchOne(ctx, src)
			mu.Lock()
			results[src.URL] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// FetchOne fetches a single source. A failed fetch is reported as a
// *FetchError; the previously cached document is NOT substituted.
func (f *Fetcher) FetchOne(ctx context.Context, src model.FeedSource) FetchResult {
	res := FetchResult{Source: src}
	if src.URL == "" {
		res.Err = &FetchError{URL: src.URL, Err: errors.New("source URL is empty")}
		return res
	}

	now := f.now()
	cached, haveCached, err := f.cache.Get(ctx, src.URL)
	if err != nil {
		appLog.Error("ics cache read failed", err, "name", src.Name, "url", RedactURL(src.URL))
		haveCached = false
	}
	if haveCached && now.Sub(cached.FetchedAt) < f.ttl {
		appLog.Debug("ics cache hit", "name", src.Name, "url", RedactURL(src.URL), "age", now.Sub(cached.FetchedAt))
		doc := cached
		res.Doc = &doc
		res.FromCache = true
		return res
	}

	target := NormalizeURL(src.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		res.Err = &FetchError{URL: src.URL, Err: err}
		return res
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if haveCached {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	appLog.Info("ics fetch start", "name", src.Name, "url", RedactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		res.Err = &FetchError{URL: src.URL, Err: err}
		appLog.Error("ics fetch failed", err, "name", src.Name, "url", RedactURL(src.URL))
		return res
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && haveCached && len(cached.Body) > 0:
		doc := cached
		doc.FetchedAt = now
		f.store(ctx, src, doc)
		appLog.Info("ics fetch not modified; using cache", "name", src.Name, "url", RedactURL(src.URL))
		res.Doc = &doc
		res.FromCache = true
		return res

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			res.Err = &FetchError{URL: src.URL, Status: resp.StatusCode, Err: readErr}
			return res
		}
		doc := model.Document{
			URL:          src.URL,
			Body:         body,
			FetchedAt:    now,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		f.store(ctx, src, doc)
		appLog.Info("ics fetch success", "name", src.Name, "url", RedactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
		res.Doc = &doc
		return res

	default:
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		res.Err = &FetchError{URL: src.URL, Status: resp.StatusCode, Err: errors.New(resp.Status)}
		appLog.Error("ics fetch non-OK", res.Err, "name", src.Name, "url", RedactURL(src.URL), "status", resp.StatusCode)
		return res
	}
}

func (f *Fetcher) store(ctx context.Context, src model.FeedSource, doc model.Document) {
	if err := f.cache.Put(ctx, doc); err != nil {
		// Log but still return the freshly fetched body.
		appLog.Error("ics cache save failed", err, "name", src.Name, "url", RedactURL(src.URL))
	}
}

// NormalizeURL rewrites the webcal scheme to https. Other URLs are returned
// unchanged.
func NormalizeURL(u string) string {
	lower := strings.ToLower(u)
	switch {
	case strings.HasPrefix(lower, "webcal://"):
		return "https://" + u[len("webcal://"):]
	case strings.HasPrefix(lower, "webcal:"):
		return "https:" + u[len("webcal:"):]
	}
	return u
}

// RedactURL hides the path and query of a feed URL, which often embed a
// private token, for logs and status output.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		if strings.HasPrefix(strings.ToLower(u), "webcal:") {
			return "webcal:" + redactedSuffix
		}
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + redactedSuffix
}
