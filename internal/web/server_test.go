package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kioskcal/internal/battery"
	"kioskcal/internal/calendar"
	"kioskcal/internal/config"
	"kioskcal/internal/gesture"
	"kioskcal/internal/ics"
	"kioskcal/internal/model"
	"kioskcal/internal/store"
	"kioskcal/internal/view"
)

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\nUID:dentist\r\nSUMMARY:Dentist\r\nDTSTART:20240214T143000Z\r\nDTEND:20240214T160000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:trip\r\nSUMMARY:Ski trip\r\nDTSTART;VALUE=DATE:20240216\r\nDTEND;VALUE=DATE:20240219\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

type stubFetcher struct {
	results map[string]ics.FetchResult
}

func (f stubFetcher) FetchAll(context.Context, []model.FeedSource) map[string]ics.FetchResult {
	return f.results
}

type fixedBattery struct{ calls int }

func (b *fixedBattery) Read(context.Context) (battery.Status, error) {
	b.calls++
	return battery.Status{Percent: 87, VoltageMv: 4012}, nil
}

type fixture struct {
	srv     *httptest.Server
	ctrl    *view.Controller
	battery *fixedBattery
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.Calendar.FirstDayOfWeek = 1
	cfg.Calendar.Feeds = []config.FeedConfig{
		{URL: "https://example.com/private/token/family.ics", Name: "Family", Color: "#ff8800"},
		{URL: "https://example.com/work.ics", Name: "Work", Color: "#0000ff"},
	}
	if mutate != nil {
		mutate(cfg)
	}

	now := func() time.Time { return time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC) }
	sources := cfg.Sources()
	results := map[string]ics.FetchResult{}
	if len(sources) > 0 {
		results[sources[0].URL] = ics.FetchResult{Source: sources[0], Doc: &model.Document{URL: sources[0].URL, Body: []byte(feedBody)}}
	}
	if len(sources) > 1 {
		results[sources[1].URL] = ics.FetchResult{Source: sources[1], Err: &ics.FetchError{URL: sources[1].URL, Status: 500, Err: context.DeadlineExceeded}}
	}

	st := store.New(time.UTC)
	svc := calendar.New(stubFetcher{results: results}, st, calendar.Options{Sources: sources, Now: now})
	ctrl := view.NewController(st, svc, view.Options{FirstDayOfWeek: 1, Now: now})
	engine := gesture.New(ctrl, nil, gesture.DefaultThresholds())
	ctrl.SetModeListener(engine.SetMode)
	bat := &fixedBattery{}

	s := NewServer(cfg, Deps{Service: svc, Controller: ctrl, Gestures: engine, Battery: bat})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	svc.Refresh(context.Background())
	return &fixture{srv: ts, ctrl: ctrl, battery: bat}
}

func (f *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestViewAndNavigation(t *testing.T) {
	f := newFixture(t, nil)

	var v viewResponse
	if code := f.do(t, http.MethodGet, "/api/view", "", &v); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if v.Mode != model.ModeMonth || v.Month == nil || v.Month.LeadingBlanks != 3 || len(v.Month.Days) != 29 {
		t.Fatalf("unexpected month view: %+v", v)
	}
	feb14 := v.Month.Days[13]
	if !feb14.IsToday || len(feb14.Occurrences) != 1 || feb14.Occurrences[0].Title != "Dentist" {
		t.Fatalf("Feb 14 cell = %+v", feb14)
	}
	for _, d := range []int{16, 17, 18} {
		if v.Month.Days[d-1].Total != 1 {
			t.Fatalf("ski trip missing on Feb %d", d)
		}
	}
	if v.Month.Days[18].Total != 0 {
		t.Fatalf("ski trip should end on Feb 18")
	}

	f.do(t, http.MethodPost, "/api/nav/next", "", &v)
	if v.Anchor != "2024-03-01" || v.Title != "March 2024" {
		t.Fatalf("after next: %s %q", v.Anchor, v.Title)
	}
	f.do(t, http.MethodPost, "/api/nav/today", "", &v)
	if v.Anchor != "2024-02-14" {
		t.Fatalf("after today: %s", v.Anchor)
	}

	v = viewResponse{}
	if code := f.do(t, http.MethodPost, "/api/view/mode", `{"mode":"week"}`, &v); code != http.StatusOK {
		t.Fatalf("mode switch status %d", code)
	}
	if v.Week == nil || v.Month != nil || len(v.Week.Placements) != 1 {
		t.Fatalf("week view: %+v", v)
	}
	p := v.Week.Placements[0]
	if p.Top != 30 || p.Height != 90 || p.Hour != 14 || p.Column != 2 {
		t.Fatalf("placement = %+v", p)
	}
	if len(v.Week.AllDay) != 1 || v.Week.ScrollOffset != 480 {
		t.Fatalf("week extras: all-day %d scroll %v", len(v.Week.AllDay), v.Week.ScrollOffset)
	}

	f.do(t, http.MethodPost, "/api/nav/goto?date=2024-12-25", "", &v)
	if v.Anchor != "2024-12-25" || v.Week.Start != "2024-12-23" {
		t.Fatalf("goto: anchor %s start %s", v.Anchor, v.Week.Start)
	}

	var e map[string]string
	if code := f.do(t, http.MethodPost, "/api/view/mode?mode=year", "", &e); code != http.StatusBadRequest {
		t.Fatalf("bad mode status %d", code)
	}
	if code := f.do(t, http.MethodPost, "/api/nav/goto?date=tomorrow", "", &e); code != http.StatusBadRequest {
		t.Fatalf("bad date status %d", code)
	}
	if code := f.do(t, http.MethodPost, "/api/nav/sideways", "", &e); code != http.StatusNotFound {
		t.Fatalf("bad action status %d", code)
	}
}

func TestEventDetail(t *testing.T) {
	f := newFixture(t, nil)

	var occ occurrenceDTO
	if code := f.do(t, http.MethodGet, "/api/events/dentist", "", &occ); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if occ.Title != "Dentist" || occ.SourceName != "Family" || occ.SourceColor != "#ff8800" {
		t.Fatalf("detail = %+v", occ)
	}

	var e map[string]string
	if code := f.do(t, http.MethodGet, "/api/events/missing", "", &e); code != http.StatusNotFound {
		t.Fatalf("missing event status %d", code)
	}
}

func TestGestureEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	var g gestureResponse
	f.do(t, http.MethodPost, "/api/gesture", `{"type":"pointerdown","target":"month","x":300,"y":200}`, &g)
	f.do(t, http.MethodPost, "/api/gesture", `{"type":"pointermove","x":270,"y":202}`, &g)
	if !g.PreventDefault {
		t.Fatalf("horizontal move should prevent default")
	}
	f.do(t, http.MethodPost, "/api/gesture", `{"type":"pointerup","x":220,"y":205}`, &g)
	if !g.Navigated {
		t.Fatalf("80px swipe should navigate")
	}
	if _, anchor := f.ctrl.State(); anchor.Month() != time.March {
		t.Fatalf("left swipe should show next month, anchor %v", anchor)
	}

	f.do(t, http.MethodPost, "/api/gesture", `{"type":"hide"}`, &g)
	f.do(t, http.MethodPost, "/api/gesture", `{"type":"wheel","target":"month","dx":10,"dy":0}`, &g)
	if !g.PreventDefault || g.Navigated {
		t.Fatalf("partial wheel swipe = %+v", g)
	}
	g = gestureResponse{}
	f.do(t, http.MethodPost, "/api/gesture", `{"type":"wheel","target":"month","dx":40,"dy":1}`, &g)
	if !g.PreventDefault || !g.Navigated {
		t.Fatalf("wheel swipe = %+v", g)
	}
	if _, anchor := f.ctrl.State(); anchor.Month() != time.February {
		t.Fatalf("positive wheel delta should go back, anchor %v", anchor)
	}

	f.do(t, http.MethodPost, "/api/gesture", `{"type":"wheel","target":"week","dx":-40,"dy":0}`, &g)
	if g.PreventDefault || g.Navigated {
		t.Fatalf("inactive surface should be ignored: %+v", g)
	}

	var e map[string]string
	if code := f.do(t, http.MethodPost, "/api/gesture", `{"type":"pinch"}`, &e); code != http.StatusBadRequest {
		t.Fatalf("unknown type status %d", code)
	}
}

func TestFeedsReportRedactsAndFlagsFailures(t *testing.T) {
	f := newFixture(t, nil)

	var rep feedsResponse
	if code := f.do(t, http.MethodGet, "/api/feeds", "", &rep); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	if !rep.Refreshed || rep.Occurrences != 2 || len(rep.Feeds) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	family, work := rep.Feeds[0], rep.Feeds[1]
	if !family.OK || family.Occurrences != 2 || strings.Contains(family.URL, "token") {
		t.Fatalf("family status = %+v", family)
	}
	if work.OK || work.Error == "" {
		t.Fatalf("work status = %+v", work)
	}

	if code := f.do(t, http.MethodPost, "/api/refresh", "", &rep); code != http.StatusOK || rep.Occurrences != 2 {
		t.Fatalf("refresh: %d %+v", code, rep)
	}
}

func TestNotConfigured(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Calendar.Feeds = nil })

	var v viewResponse
	f.do(t, http.MethodGet, "/api/view", "", &v)
	if !v.NotConfigured {
		t.Fatalf("expected not_configured")
	}
	var rep feedsResponse
	f.do(t, http.MethodGet, "/api/feeds", "", &rep)
	if !rep.NotConfigured || len(rep.Feeds) != 0 {
		t.Fatalf("feeds = %+v", rep)
	}
}

func TestBatteryIsCached(t *testing.T) {
	f := newFixture(t, nil)
	var st battery.Status
	for i := 0; i < 3; i++ {
		if code := f.do(t, http.MethodGet, "/api/battery", "", &st); code != http.StatusOK {
			t.Fatalf("status %d", code)
		}
	}
	if st.Percent != 87 || f.battery.calls != 1 {
		t.Fatalf("battery %+v read %d times", st, f.battery.calls)
	}
}

func TestPageRendersReadyMarker(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Get(f.srv.URL + "/?view=week&date=2024-02-14")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	html := string(body)
	for _, want := range []string{`data-ready="true"`, `data-mode="week"`, "Dentist", "Ski trip"} {
		if !strings.Contains(html, want) {
			t.Fatalf("page missing %q", want)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "kiosk", Password: "s3cret"}
	})

	resp, err := http.Get(f.srv.URL + "/health")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("/health should stay open: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/api/view")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/view", nil)
	req.SetBasicAuth("kiosk", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", resp.StatusCode)
	}
}
