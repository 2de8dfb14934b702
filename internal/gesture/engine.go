// Package gesture turns raw pointer and wheel input from the kiosk shell
// into discrete previous/next navigation.
//
// Two sub-machines share one cooldown. A pointer gesture goes
// Idle -> Tracking -> Horizontal|Vertical -> Idle and navigates on release
// after a long enough horizontal drag. Horizontal wheel deltas (trackpad
// swipes) accumulate until they cross a threshold; a debounce drops
// abandoned partial swipes and a long cooldown swallows inertial trailing
// events.
package gesture

import (
	"math"
	"sync"
	"time"

	appLog "kioskcal/internal/log"
	"kioskcal/internal/model"
)

// Navigator receives resolved navigation.
type Navigator interface {
	Previous()
	Next()
}

// Thresholds tunes gesture recognition. Distances are in CSS pixels.
type Thresholds struct {
	DirectionLock   float64
	Swipe           float64
	PointerCooldown time.Duration

	Wheel         float64
	WheelCooldown time.Duration
	WheelDebounce time.Duration
}

// DefaultThresholds returns the values tuned for touch screens and
// laptop trackpads.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DirectionLock:   15,
		Swipe:           50,
		PointerCooldown: 50 * time.Millisecond,
		Wheel:           25,
		WheelCooldown:   800 * time.Millisecond,
		WheelDebounce:   100 * time.Millisecond,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.DirectionLock <= 0 {
		t.DirectionLock = d.DirectionLock
	}
	if t.Swipe <= 0 {
		t.Swipe = d.Swipe
	}
	if t.PointerCooldown <= 0 {
		t.PointerCooldown = d.PointerCooldown
	}
	if t.Wheel <= 0 {
		t.Wheel = d.Wheel
	}
	if t.WheelCooldown <= 0 {
		t.WheelCooldown = d.WheelCooldown
	}
	if t.WheelDebounce <= 0 {
		t.WheelDebounce = d.WheelDebounce
	}
	return t
}

type direction int

const (
	none direction = iota
	previous
	next
)

type pointerPhase int

const (
	idle pointerPhase = iota
	tracking
	horizontal
	vertical
)

// Engine is safe for concurrent use. Navigation is dispatched after the
// engine's lock is released, so a Navigator may call back into the engine.
type Engine struct {
	sched Scheduler
	nav   Navigator
	th    Thresholds

	mu   sync.Mutex
	mode model.Mode

	phase          pointerPhase
	originX        float64
	originY        float64
	trackpadActive bool

	navigating  bool
	cooldown    Task
	cooldownGen uint64

	wheelAcc    float64
	debounce    Task
	debounceGen uint64
}

// New creates an engine routing navigation to nav. A nil sched uses the
// wall clock; zero thresholds take their defaults.
func New(nav Navigator, sched Scheduler, th Thresholds) *Engine {
	if sched == nil {
		sched = ClockScheduler{}
	}
	return &Engine{
		sched: sched,
		nav:   nav,
		th:    th.withDefaults(),
		mode:  model.ModeMonth,
	}
}

// SetMode records which calendar surface is active. Input targeting any
// other surface is ignored.
func (e *Engine) SetMode(m model.Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = m
}

// Mode returns the active surface.
func (e *Engine) Mode() model.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// PointerDown starts tracking when target is the active surface.
func (e *Engine) PointerDown(target model.Mode, x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if target != e.mode {
		e.phase = idle
		return
	}
	e.phase = tracking
	e.originX, e.originY = x, y
	e.trackpadActive = false
}

// PointerMove resolves the gesture direction once the pointer has moved
// past the direction lock. It reports whether the caller should suppress
// the default scroll, which is the case for the rest of a horizontal
// gesture.
func (e *Engine) PointerMove(x, y float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.phase {
	case tracking:
		dx := math.Abs(x - e.originX)
		dy := math.Abs(y - e.originY)
		if dx <= e.th.DirectionLock && dy <= e.th.DirectionLock {
			return false
		}
		if dx > dy {
			e.phase = horizontal
			return true
		}
		e.phase = vertical
		return false
	case horizontal:
		return true
	}
	return false
}

// PointerUp ends the gesture and reports whether it navigated.
func (e *Engine) PointerUp(x, y float64) bool {
	e.mu.Lock()
	dir := none
	if e.phase == horizontal && !e.trackpadActive && !e.navigating {
		dx := x - e.originX
		if math.Abs(dx) > e.th.Swipe {
			dir = next
			if dx > 0 {
				dir = previous
			}
			e.startCooldownLocked(e.th.PointerCooldown)
		}
	}
	e.phase = idle
	e.mu.Unlock()

	return e.dispatch(dir, "pointer")
}

// Wheel feeds one wheel event. claimed reports whether the caller should
// suppress its default handling; navigated whether this event fired a
// navigation.
func (e *Engine) Wheel(target model.Mode, dx, dy float64) (claimed, navigated bool) {
	e.mu.Lock()
	if e.navigating || target != e.mode {
		e.mu.Unlock()
		return false, false
	}
	if math.Abs(dx) <= math.Abs(dy) {
		e.mu.Unlock()
		return false, false
	}

	e.trackpadActive = true
	e.wheelAcc += dx

	dir := none
	if math.Abs(e.wheelAcc) > e.th.Wheel {
		dir = previous
		if e.wheelAcc < 0 {
			dir = next
		}
		e.wheelAcc = 0
		e.cancelDebounceLocked()
		e.startCooldownLocked(e.th.WheelCooldown)
	} else {
		e.restartDebounceLocked()
	}
	e.mu.Unlock()

	return true, e.dispatch(dir, "wheel")
}

// Stop cancels pending timers and returns to idle, e.g. when the calendar
// is hidden.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelDebounceLocked()
	if e.cooldown != nil {
		e.cooldown.Cancel()
		e.cooldown = nil
	}
	e.cooldownGen++
	e.navigating = false
	e.wheelAcc = 0
	e.phase = idle
	e.trackpadActive = false
}

func (e *Engine) startCooldownLocked(d time.Duration) {
	e.navigating = true
	e.cooldownGen++
	gen := e.cooldownGen
	e.cooldown = e.sched.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.cooldownGen {
			return
		}
		e.navigating = false
		e.wheelAcc = 0
		e.cooldown = nil
	})
}

func (e *Engine) restartDebounceLocked() {
	e.cancelDebounceLocked()
	gen := e.debounceGen
	e.debounce = e.sched.AfterFunc(e.th.WheelDebounce, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if gen != e.debounceGen {
			return
		}
		e.wheelAcc = 0
		e.debounce = nil
	})
}

func (e *Engine) cancelDebounceLocked() {
	e.debounceGen++
	if e.debounce != nil {
		e.debounce.Cancel()
		e.debounce = nil
	}
}

func (e *Engine) dispatch(dir direction, source string) bool {
	if dir == none || e.nav == nil {
		return dir != none
	}
	if dir == previous {
		appLog.Debug("gesture: navigate previous", "source", source)
		e.nav.Previous()
	} else {
		appLog.Debug("gesture: navigate next", "source", source)
		e.nav.Next()
	}
	return true
}
