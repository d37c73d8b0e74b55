// Package engine is the discrete-event core of the simulation. Callbacks
// are scheduled at virtual times and run in time order on a single
// goroutine while the clock jumps from one event to the next.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/timectrl"
)

// ErrAlreadyRunning is returned when Run is entered twice.
var ErrAlreadyRunning = errors.New("engine already running")

// StopReason explains why Run returned.
type StopReason int

const (
	// StopNone means the engine has not finished yet.
	StopNone StopReason = iota
	// StopTime means the stop time was reached.
	StopTime
	// StopDrained means no events were left.
	StopDrained
	// StopAborted means Abort was called.
	StopAborted
	// StopCancelled means the run context was cancelled.
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopTime:
		return "stop_time"
	case StopDrained:
		return "drained"
	case StopAborted:
		return "aborted"
	case StopCancelled:
		return "cancelled"
	default:
		return "running"
	}
}

// Scheduler is the subset of the engine components use to arm events.
type Scheduler interface {
	// Schedule registers f to run at simulation time at and returns an
	// opaque id for Cancel.
	Schedule(at time.Time, f func()) (id string)
	// Cancel is a no-op for unknown or already executed ids.
	Cancel(id string)
	// Now returns the current simulation time.
	Now() time.Time
}

type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Engine runs scheduled callbacks against a TimeController.
type Engine struct {
	clock *timectrl.TimeController
	log   logging.Logger

	mu       sync.Mutex
	counter  uint64
	events   []*scheduledEvent // ordered by when, then insertion
	index    map[string]*scheduledEvent
	stopAt   time.Time
	hasStop  bool
	abortErr error
	aborted  bool
	running  bool
	reason   StopReason
	executed uint64
}

// New creates an engine driving clock.
func New(clock *timectrl.TimeController, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Noop()
	}
	return &Engine{
		clock: clock,
		log:   log,
		index: make(map[string]*scheduledEvent),
	}
}

// Now returns the current simulation time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Schedule registers f at simulation time at. Times in the past run at the
// current time, after anything already due.
func (e *Engine) Schedule(at time.Time, f func()) (id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counter++
	id = fmt.Sprintf("ev-%d", e.counter)
	if now := e.clock.Now(); at.Before(now) {
		at = now
	}
	ev := &scheduledEvent{id: id, when: at, f: f}
	e.addEventLocked(ev)
	e.index[id] = ev
	return id
}

// ScheduleAfter registers f to run d after the current simulation time.
func (e *Engine) ScheduleAfter(d time.Duration, f func()) string {
	return e.Schedule(e.Now().Add(d), f)
}

// addEventLocked inserts ev after every event with the same or an earlier time.
func (e *Engine) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(e.events), func(i int) bool {
		return e.events[i].when.After(ev.when)
	})
	e.events = append(e.events, nil)
	copy(e.events[idx+1:], e.events[idx:])
	e.events[idx] = ev
}

// Cancel marks a scheduled event as cancelled. Removal is lazy.
func (e *Engine) Cancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ev, ok := e.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(e.index, id)
}

// Pending returns the number of scheduled, not cancelled events.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.index)
}

// StopAt ends the run once the clock reaches t. Events scheduled exactly
// at t still run. A later call replaces the earlier stop time.
func (e *Engine) StopAt(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopAt = t
	e.hasStop = true
}

// StopTime returns the configured stop time, if any.
func (e *Engine) StopTime() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopAt, e.hasStop
}

// Abort ends the run after the current event; Run returns err. Only the
// first abort is kept.
func (e *Engine) Abort(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.aborted {
		return
	}
	e.aborted = true
	e.abortErr = err
}

// Reason reports why the last Run returned.
func (e *Engine) Reason() StopReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Executed returns how many callbacks have run.
func (e *Engine) Executed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executed
}

// popNextLocked removes and returns the earliest live event, or nil.
func (e *Engine) popNextLocked() *scheduledEvent {
	for len(e.events) > 0 {
		ev := e.events[0]
		e.events[0] = nil
		e.events = e.events[1:]
		if ev.cancelled {
			continue
		}
		delete(e.index, ev.id)
		return ev
	}
	return nil
}

// peekNextLocked returns the earliest live event without removing it.
func (e *Engine) peekNextLocked() *scheduledEvent {
	for len(e.events) > 0 {
		if ev := e.events[0]; !ev.cancelled {
			return ev
		}
		e.events[0] = nil
		e.events = e.events[1:]
	}
	return nil
}

// Run executes events in time order until the stop time is reached, the
// queue drains, Abort is called or ctx is cancelled. Callbacks run on the
// calling goroutine, outside the engine lock, and may schedule further
// events.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.reason = StopNone
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			e.finish(StopCancelled)
			return err
		}

		e.mu.Lock()
		if e.aborted {
			err := e.abortErr
			e.mu.Unlock()
			e.finish(StopAborted)
			return err
		}
		next := e.peekNextLocked()
		if next == nil {
			hasStop, stopAt := e.hasStop, e.stopAt
			e.mu.Unlock()
			if hasStop {
				e.clock.SetTime(stopAt)
				e.finish(StopTime)
				return nil
			}
			e.finish(StopDrained)
			return nil
		}
		if e.hasStop && next.when.After(e.stopAt) {
			stopAt := e.stopAt
			e.mu.Unlock()
			e.clock.SetTime(stopAt)
			e.finish(StopTime)
			return nil
		}
		when := next.when
		e.mu.Unlock()

		if d := e.clock.WallDelay(when); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				e.finish(StopCancelled)
				return ctx.Err()
			case <-timer.C:
			}
			// An event may have been scheduled or cancelled meanwhile.
			continue
		}

		e.mu.Lock()
		ev := e.popNextLocked()
		if ev == nil {
			e.mu.Unlock()
			continue
		}
		e.executed++
		e.mu.Unlock()

		e.clock.SetTime(ev.when)
		if ev.f != nil {
			ev.f()
		}
	}
}

func (e *Engine) finish(reason StopReason) {
	e.mu.Lock()
	e.reason = reason
	e.mu.Unlock()
	e.log.Debug(context.Background(), "engine stopped",
		logging.String("reason", reason.String()),
		logging.Duration("sim_elapsed", e.clock.Elapsed()),
	)
}
