package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
	"kioskcal/internal/view"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleView returns the current grid description.
func (s *Server) handleView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toViewResponse(s.ctrl.Render()))
}

// handleMode switches between month and week.
//
// POST /api/view/mode   {"mode":"week"}   or   ?mode=week
func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		var body struct {
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "mode is required")
			return
		}
		raw = body.Mode
	}
	mode, err := model.ParseMode(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(s.ctrl.SwitchView(mode)))
}

// handleNav moves the view: previous, next or today.
func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	var rendered view.Rendered
	switch r.PathValue("action") {
	case "previous", "prev":
		rendered = s.ctrl.Step(-1)
	case "next":
		rendered = s.ctrl.Step(1)
	case "today":
		rendered = s.ctrl.Today()
	default:
		writeError(w, http.StatusNotFound, "unknown navigation action")
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(rendered))
}

// handleGoTo jumps to a date.
//
// POST /api/nav/goto?date=2024-02-14
func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	date, err := time.ParseInLocation(dateLayout, raw, s.cfg.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(s.ctrl.GoTo(date)))
}

// handleEvent resolves a clicked occurrence for the detail view.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	occ, err := s.ctrl.Activate(r.PathValue("id"))
	if errors.Is(err, view.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toOccurrenceDTO(occ))
}

// gestureRequest is one input event forwarded by the kiosk shell. Target
// names the calendar surface under the pointer ("month", "week" or empty).
type gestureRequest struct {
	Type   string  `json:"type"`
	Target string  `json:"target"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
}

type gestureResponse struct {
	PreventDefault bool `json:"prevent_default"`
	Navigated      bool `json:"navigated"`
}

// handleGesture feeds pointer and wheel events into the gesture engine.
func (s *Server) handleGesture(w http.ResponseWriter, r *http.Request) {
	if s.gestures == nil {
		writeError(w, http.StatusServiceUnavailable, "gestures disabled")
		return
	}
	var req gestureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid gesture payload")
		return
	}
	target := model.Mode(req.Target)

	var resp gestureResponse
	switch req.Type {
	case "pointerdown":
		s.gestures.PointerDown(target, req.X, req.Y)
	case "pointermove":
		resp.PreventDefault = s.gestures.PointerMove(req.X, req.Y)
	case "pointerup", "pointercancel":
		resp.Navigated = s.gestures.PointerUp(req.X, req.Y)
	case "wheel":
		resp.PreventDefault, resp.Navigated = s.gestures.Wheel(target, req.DX, req.DY)
	case "hide":
		s.gestures.Stop()
	default:
		writeError(w, http.StatusBadRequest, "unknown gesture type")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFeeds reports the outcome of the last refresh per feed.
func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.svc.LastReport()
	if !ok {
		writeJSON(w, http.StatusOK, feedsResponse{
			NotConfigured: s.svc.NotConfigured(),
			Feeds:         []feedStatusDTO{},
		})
		return
	}
	writeJSON(w, http.StatusOK, toFeedsResponse(rep))
}

// handleRefresh runs a refresh now. It is not cancelled when the client
// goes away so the store still gets the result.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	rep := s.svc.Refresh(ctx)
	writeJSON(w, http.StatusOK, toFeedsResponse(rep))
}

// handleBattery exposes current battery status for the status corner.
func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	if s.battery == nil {
		writeError(w, http.StatusServiceUnavailable, "battery reader unavailable")
		return
	}
	status, err := s.battery.Read(r.Context())
	if err != nil {
		appLog.Error("battery read failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read battery")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
