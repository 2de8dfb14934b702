package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"kioskcal/internal/battery"
	"kioskcal/internal/calendar"
	"kioskcal/internal/config"
	"kioskcal/internal/gesture"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/view"
)

const batteryCacheTTL = 30 * time.Second

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Service    *calendar.Service
	Controller *view.Controller
	Gestures   *gesture.Engine

	// Battery may be nil, in which case /api/battery answers 503.
	Battery battery.Reader
}

// Server provides the HTTP API the kiosk shell talks to, plus the HTML
// calendar page.
type Server struct {
	cfg      *config.Config
	svc      *calendar.Service
	ctrl     *view.Controller
	gestures *gesture.Engine
	battery  battery.Reader
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		svc:      deps.Service,
		ctrl:     deps.Controller,
		gestures: deps.Gestures,
		mux:      http.NewServeMux(),
	}
	if deps.Battery != nil {
		s.battery = battery.NewCachedReader(deps.Battery, batteryCacheTTL)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than lock everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="kioskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/view", s.handleView)
	s.mux.HandleFunc("POST /api/view/mode", s.handleMode)
	s.mux.HandleFunc("POST /api/nav/goto", s.handleGoTo)
	s.mux.HandleFunc("POST /api/nav/{action}", s.handleNav)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("POST /api/gesture", s.handleGesture)

	s.mux.HandleFunc("GET /api/feeds", s.handleFeeds)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /api/battery", s.handleBattery)

	s.mux.HandleFunc("GET /{$}", s.handlePage)
}
