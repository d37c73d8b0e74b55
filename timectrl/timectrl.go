package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. The event engine,
// the interaction loop and the WLAN model depend on this abstraction rather
// than on a concrete controller, so tests can drive time explicitly.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController relates simulation time to wall-clock time.
type Mode int

const (
	// RealTime paces simulation time against the wall clock.
	RealTime Mode = iota
	// Accelerated jumps straight to the next event time.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// TimeController holds the virtual simulation clock and notifies registered
// listeners whenever it moves forward. It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Mode      Mode

	// currentTime tracks the current simulation time. It only moves forward.
	currentTime time.Time

	// wallStart anchors RealTime pacing.
	wallStart time.Time

	listeners []func(time.Time)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Elapsed returns the simulated time since StartTime.
func (tc *TimeController) Elapsed() time.Duration {
	return tc.Now().Sub(tc.StartTime)
}

// SetTime moves the clock to t and notifies listeners. Times earlier than
// the current time are ignored; the clock is monotonic.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	if t.Before(tc.currentTime) {
		tc.mu.Unlock()
		return
	}
	tc.currentTime = t
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
}

// AddListener registers a callback invoked every time the clock advances.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// WallDelay returns how long a RealTime caller has to wait before the clock
// may advance to t. It is always zero in Accelerated mode.
func (tc *TimeController) WallDelay(t time.Time) time.Duration {
	if tc.Mode != RealTime {
		return 0
	}
	tc.mu.Lock()
	if tc.wallStart.IsZero() {
		tc.wallStart = time.Now()
	}
	wallStart := tc.wallStart
	tc.mu.Unlock()

	target := wallStart.Add(t.Sub(tc.StartTime))
	if d := time.Until(target); d > 0 {
		return d
	}
	return 0
}
