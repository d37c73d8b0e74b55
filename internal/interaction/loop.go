// Package interaction runs the periodic tick that aggregates statistics,
// exchanges them with the decision agent, drives the warmup/measurement
// phase machine and applies the agent's contention window choices.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/wifi-cw-sim/internal/collisions"
	"github.com/signalsfoundry/wifi-cw-sim/internal/control"
	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/internal/observability"
	"github.com/signalsfoundry/wifi-cw-sim/internal/stats"
)

var (
	// ErrTooManyCheaters is returned when more stations are controlled than
	// the exchange records can carry.
	ErrTooManyCheaters = fmt.Errorf("cheater count exceeds %d", exchange.Capacity)
	// ErrInvalidConfig wraps timing validation failures.
	ErrInvalidConfig = errors.New("invalid interaction config")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("interaction loop already started")
)

// Simulation is what the loop needs from the discrete-event engine.
type Simulation interface {
	Now() time.Time
	Schedule(at time.Time, f func()) string
	StopAt(t time.Time)
	Abort(err error)
}

// Exchanger hands an environment to the agent and waits for its action.
type Exchanger interface {
	Exchange(ctx context.Context, env exchange.Environment) (exchange.Action, error)
}

// Applier writes contention windows into the network.
type Applier interface {
	ApplyGlobal(ctx context.Context, x int) (bool, error)
	ApplyStation(ctx context.Context, node, x int) (bool, error)
}

// MetricsRecorder receives per-tick observations.
type MetricsRecorder interface {
	ObserveTick(phase string)
	ObserveExchange(d time.Duration)
	SetMeasurement(warmup time.Duration)
	ObserveStation(station int, throughputMbps float64, collisions uint64)
	SetStationWindow(station int, size uint32)
}

// Config holds the timing of the loop.
type Config struct {
	// FuzzTime is when the first tick fires, relative to Start.
	FuzzTime time.Duration
	// InteractionTime is the tick period.
	InteractionTime time.Duration
	// SimulationTime is how long the measurement phase lasts.
	SimulationTime time.Duration
	// Cheaters is the number of stations (1..Cheaters) reported to and
	// controlled by the agent.
	Cheaters int
	// GlobalCW is the exponent applied to every station at Start. Negative
	// keeps the network defaults.
	GlobalCW int
}

// Validate checks the timing and the cheater bound.
func (c Config) Validate() error {
	if c.Cheaters < 0 {
		return fmt.Errorf("%w: negative cheater count %d", ErrInvalidConfig, c.Cheaters)
	}
	if c.Cheaters > exchange.Capacity {
		return fmt.Errorf("%w: %d", ErrTooManyCheaters, c.Cheaters)
	}
	if c.FuzzTime < 0 {
		return fmt.Errorf("%w: fuzz time %v", ErrInvalidConfig, c.FuzzTime)
	}
	if c.InteractionTime <= 0 {
		return fmt.Errorf("%w: interaction time %v", ErrInvalidConfig, c.InteractionTime)
	}
	if c.SimulationTime <= 0 {
		return fmt.Errorf("%w: simulation time %v", ErrInvalidConfig, c.SimulationTime)
	}
	return nil
}

// TickRecord describes one completed tick.
type TickRecord struct {
	Tick uint64
	// SinceFuzz is the simulated time since the end of the fuzz period.
	SinceFuzz    time.Duration
	Phase        Phase
	Deltas       []stats.StationDelta
	Action       exchange.Action
	AgentDriven  bool
	EndWarmup    bool
	Transitioned bool
}

// TickObserver is invoked on the simulation goroutine after every tick.
type TickObserver func(TickRecord)

// Option customises Loop construction.
type Option func(*Loop)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithAgent connects an agent. Without one the loop ends warmup as soon
// as the fuzz period is over.
func WithAgent(x Exchanger) Option {
	return func(l *Loop) {
		l.agent = x
	}
}

// WithTickObserver registers a callback for completed ticks.
func WithTickObserver(o TickObserver) Option {
	return func(l *Loop) {
		if o != nil {
			l.observers = append(l.observers, o)
		}
	}
}

// Loop is the interaction scheduler. It owns the previous snapshot (via the
// aggregator), the drop tracker baselines and the phase; everything it
// mutates is touched from the simulation goroutine only.
type Loop struct {
	cfg     Config
	sim     Simulation
	source  flowstats.Source
	tracker *collisions.Tracker
	agg     *stats.Aggregator
	applier Applier

	agent     Exchanger
	log       logging.Logger
	metrics   MetricsRecorder
	observers []TickObserver

	origin time.Time

	mu          sync.Mutex
	started     bool
	phase       Phase
	transitions int
	warmupEnd   time.Duration
	ticks       uint64
}

// New wires a loop. tracker may be nil when collisions are not tracked.
func New(cfg Config, sim Simulation, source flowstats.Source, tracker *collisions.Tracker, applier Applier, opts ...Option) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:     cfg,
		sim:     sim,
		source:  source,
		tracker: tracker,
		agg:     stats.NewAggregator(cfg.Cheaters, cfg.InteractionTime, tracker),
		applier: applier,
		log:     logging.Noop(),
		phase:   Warmup,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Start records the current time as the run origin, applies the global
// contention window and arms the first tick at origin+FuzzTime. ctx is
// used for every exchange and is the only way to unblock a stalled agent.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.mu.Unlock()

	l.origin = l.sim.Now()

	if applied, err := l.applier.ApplyGlobal(ctx, l.cfg.GlobalCW); err != nil {
		return fmt.Errorf("apply global contention window: %w", err)
	} else if applied {
		size := control.WindowSize(l.cfg.GlobalCW)
		for i := 1; i <= l.cfg.Cheaters; i++ {
			l.recordWindow(i, size)
		}
	}

	first := l.origin.Add(l.cfg.FuzzTime)
	l.sim.Schedule(first, func() { l.ResetMonitor(ctx) })
	l.scheduleTick(ctx, first)

	l.log.Info(ctx, "interaction loop armed",
		logging.Duration("fuzz_time", l.cfg.FuzzTime),
		logging.Duration("interaction_time", l.cfg.InteractionTime),
		logging.Int("cheaters", l.cfg.Cheaters),
		logging.Bool("agent", l.agent != nil),
	)
	return nil
}

// ResetMonitor clears the flow counters, takes a fresh baseline snapshot
// and zeroes the drop tracker.
func (l *Loop) ResetMonitor(ctx context.Context) {
	l.source.Reset()
	l.agg.Rebase(l.source.Snapshot())
	if l.tracker != nil {
		l.tracker.Reset()
	}
	l.log.Debug(ctx, "statistics reset", logging.Duration("since_origin", l.sim.Now().Sub(l.origin)))
}

// scheduleTick arms a tick at at, carrying the ctx given to Start.
func (l *Loop) scheduleTick(ctx context.Context, at time.Time) {
	l.sim.Schedule(at, func() { l.tick(ctx) })
}

func (l *Loop) tick(runCtx context.Context) {
	now := l.sim.Now()
	elapsed := now.Sub(l.origin)
	sinceFuzz := elapsed - l.cfg.FuzzTime

	l.mu.Lock()
	l.ticks++
	tickNo := l.ticks
	startPhase := l.phase
	l.mu.Unlock()

	ctx, span := observability.StartSpan(runCtx, "interaction.tick",
		attribute.Int64("tick", int64(tickNo)),
		attribute.String("phase", startPhase.String()),
		attribute.Float64("sim.since_fuzz_s", sinceFuzz.Seconds()),
	)
	defer span.End()

	deltas := l.agg.Compute(ctx, l.source.Snapshot())

	action := exchange.NoChange()
	var endWarmup bool
	if l.agent != nil {
		env, err := exchange.EnvironmentFromDeltas(deltas, sinceFuzz)
		if err != nil {
			l.fail(ctx, span, fmt.Errorf("build environment: %w", err))
			return
		}
		act, err := l.exchange(ctx, env)
		if err != nil {
			l.fail(ctx, span, fmt.Errorf("agent exchange at tick %d: %w", tickNo, err))
			return
		}
		action = act
		endWarmup = act.EndWarmup
	} else {
		endWarmup = elapsed >= l.cfg.FuzzTime
	}

	transitioned := false
	if endWarmup && startPhase == Warmup {
		l.enterMeasurement(ctx, now)
		transitioned = true
	}

	for i := 1; i <= l.cfg.Cheaters; i++ {
		x := int(action.CW[i-1])
		applied, err := l.applier.ApplyStation(ctx, i, x)
		if err != nil {
			l.fail(ctx, span, fmt.Errorf("apply contention window for station %d: %w", i, err))
			return
		}
		if applied {
			l.recordWindow(i, control.WindowSize(x))
		}
	}

	if l.metrics != nil {
		l.metrics.ObserveTick(startPhase.String())
		for _, d := range deltas {
			l.metrics.ObserveStation(d.Station, d.ThroughputMbps, d.Collisions)
		}
	}

	rec := TickRecord{
		Tick:         tickNo,
		SinceFuzz:    sinceFuzz,
		Phase:        l.Phase(),
		Deltas:       deltas,
		Action:       action,
		AgentDriven:  l.agent != nil,
		EndWarmup:    endWarmup,
		Transitioned: transitioned,
	}
	for _, o := range l.observers {
		o(rec)
	}

	l.scheduleTick(runCtx, now.Add(l.cfg.InteractionTime))
}

func (l *Loop) exchange(ctx context.Context, env exchange.Environment) (exchange.Action, error) {
	ctx, span := observability.StartSpan(ctx, "interaction.exchange",
		attribute.Float64("env.time", env.Time),
	)
	defer span.End()

	start := time.Now()
	act, err := l.agent.Exchange(ctx, env)
	if l.metrics != nil {
		l.metrics.ObserveExchange(time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return act, err
	}
	span.SetAttributes(attribute.Bool("action.end_warmup", act.EndWarmup))
	return act, nil
}

func (l *Loop) enterMeasurement(ctx context.Context, now time.Time) {
	l.ResetMonitor(ctx)
	l.sim.StopAt(now.Add(l.cfg.SimulationTime))

	warmup := now.Sub(l.origin) - l.cfg.FuzzTime
	l.mu.Lock()
	l.phase = Measurement
	l.transitions++
	l.warmupEnd = warmup
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.SetMeasurement(warmup)
	}
	l.log.Info(ctx, "warmup period finished",
		logging.Duration("warmup", warmup),
		logging.Duration("measurement", l.cfg.SimulationTime),
	)
}

func (l *Loop) recordWindow(station int, size uint32) {
	if l.metrics != nil {
		l.metrics.SetStationWindow(station, size)
	}
}

// fail aborts the whole run; a tick either completes or nothing after it runs.
func (l *Loop) fail(ctx context.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	l.log.Error(ctx, "interaction tick failed", logging.Err(err))
	l.sim.Abort(err)
}

// Phase returns the current phase.
func (l *Loop) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Transitions returns how many times the loop entered Measurement. It is
// never more than one.
func (l *Loop) Transitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitions
}

// WarmupEnd returns the warmup duration measured from the end of the fuzz
// period. It is zero until the transition.
func (l *Loop) WarmupEnd() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warmupEnd
}

// Ticks returns the number of ticks started so far.
func (l *Loop) Ticks() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Origin returns the simulation time recorded by Start.
func (l *Loop) Origin() time.Time {
	return l.origin
}

// Config returns the loop configuration.
func (l *Loop) Config() Config {
	return l.cfg
}

// AgentDriven reports whether an agent is connected.
func (l *Loop) AgentDriven() bool {
	return l.agent != nil
}
