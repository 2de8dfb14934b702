package web

import (
	"embed"
	"html/template"
	"net/http"
	"time"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
	"clock": func(t time.Time) string { return t.Format("15:04") },
	"hours": func() []int {
		out := make([]int, 24)
		for i := range out {
			out[i] = i
		}
		return out
	},
	"blanks": func(n int) []struct{} { return make([]struct{}, n) },
	"add":    func(a, b float64) float64 { return a + b },
	"mul":    func(a float64, b int) float64 { return a * float64(b) },
}).ParseFS(templateFS, "templates/calendar.html"))

// handlePage renders the current view as HTML. ?view= and ?date= adjust
// the controller before rendering, which is how snapshots pick a view.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if raw := q.Get("view"); raw != "" {
		if m, err := model.ParseMode(raw); err == nil {
			s.ctrl.SwitchView(m)
		}
	}
	if raw := q.Get("date"); raw != "" {
		if d, err := time.ParseInLocation(dateLayout, raw, s.cfg.Location()); err == nil {
			s.ctrl.GoTo(d)
		}
	}

	data := toViewResponse(s.ctrl.Render())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, data); err != nil {
		appLog.Error("failed to render calendar page", err)
	}
}
