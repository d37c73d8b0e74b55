// Package wlan is a coarse contention model of a single-AP Wi-Fi cell. The
// access point is node 0 and stations are nodes 1..n, each sending one
// saturated uplink flow whose flow id equals its node index.
//
// The channel is divided into transmission opportunities. In every
// opportunity each backlogged station transmits with probability
// 2/(cw+1); a lone transmitter succeeds, two or more collide. Collided
// frames are retried with a doubled window until the retry limit, then
// dropped. This is enough to make contention windows matter without
// modelling propagation or PHY behaviour.
package wlan

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/collisions"
	"github.com/signalsfoundry/wifi-cw-sim/internal/control"
	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
	"github.com/signalsfoundry/wifi-cw-sim/internal/sim/engine"
)

var (
	// ErrUnknownParameter is returned for parameter names other than
	// MinCws and MaxCws.
	ErrUnknownParameter = errors.New("unknown parameter")
	// ErrUnknownNode is returned when a scope path names no station.
	ErrUnknownNode = errors.New("unknown node")
)

// Network is the simulated cell. All methods except Config must be called
// from the engine goroutine.
type Network struct {
	cfg     Config
	sched   engine.Scheduler
	monitor *flowstats.Monitor
	sink    collisions.Sink
	log     logging.Logger
	rng     *rand.Rand

	airtime  time.Duration
	stations []*station

	opportunityCarry float64
	started          bool

	opportunities uint64
	successes     uint64
	collided      uint64
}

type station struct {
	node  int
	start time.Time

	cwMin uint32
	cwMax uint32

	arrivalCarry float64
	queue        []time.Time // enqueue time of each waiting frame
	retries      int
}

// New builds a network. Stations send into monitor and report retries to
// sink; the step loop is armed on sched by Start.
func New(cfg Config, sched engine.Scheduler, monitor *flowstats.Monitor, sink collisions.Sink, log logging.Logger) (*Network, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	if sink == nil {
		sink = collisions.NewQueue()
	}

	n := &Network{
		cfg:     cfg,
		sched:   sched,
		monitor: monitor,
		sink:    sink,
		log:     log,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		airtime: cfg.Airtime(),
	}
	for i := 1; i <= cfg.Stations; i++ {
		n.stations = append(n.stations, &station{
			node:  i,
			cwMin: cfg.CwMin,
			cwMax: cfg.CwMax,
		})
		monitor.Register(flowstats.FlowID(i))
	}
	return n, nil
}

// Config returns the effective configuration.
func (n *Network) Config() Config {
	return n.cfg
}

// Start draws each station's traffic start time in [origin, origin+fuzz)
// and arms the step loop. Calling Start twice is a no-op.
func (n *Network) Start(ctx context.Context, origin time.Time) {
	if n.started {
		return
	}
	n.started = true

	for _, st := range n.stations {
		var offset time.Duration
		if n.cfg.FuzzTime > 0 {
			offset = time.Duration(n.rng.Int64N(int64(n.cfg.FuzzTime)))
		}
		st.start = origin.Add(offset)
		n.log.Debug(ctx, "station traffic start",
			logging.Int("node", st.node),
			logging.Duration("offset", offset),
		)
	}
	n.sched.Schedule(origin.Add(n.cfg.StepInterval), n.step)
}

// SetParameter writes MinCws or MaxCws on every station matched by
// scopePath. Implements control.Writer.
func (n *Network) SetParameter(scopePath, name string, value uint32) error {
	var targets []*station
	if nodepath.IsWildcard(scopePath) {
		targets = n.stations
	} else {
		node, err := nodepath.NodeIndex(scopePath)
		if err != nil {
			return err
		}
		if node < 1 || node > len(n.stations) {
			return fmt.Errorf("%w: %d", ErrUnknownNode, node)
		}
		targets = n.stations[node-1 : node]
	}

	for _, st := range targets {
		switch name {
		case control.ParamMinCw:
			st.cwMin = value
		case control.ParamMaxCw:
			st.cwMax = value
		default:
			return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
		}
	}
	return nil
}

// CwMin returns the configured minimum window of a station.
func (n *Network) CwMin(node int) uint32 {
	if node < 1 || node > len(n.stations) {
		return 0
	}
	return n.stations[node-1].cwMin
}

// CwMax returns the configured maximum window of a station.
func (n *Network) CwMax(node int) uint32 {
	if node < 1 || node > len(n.stations) {
		return 0
	}
	return n.stations[node-1].cwMax
}

// QueueLen returns the number of frames waiting at a station.
func (n *Network) QueueLen(node int) int {
	if node < 1 || node > len(n.stations) {
		return 0
	}
	return len(n.stations[node-1].queue)
}

// Counters returns the number of opportunities, successes and collisions
// seen so far.
func (n *Network) Counters() (opportunities, successes, collided uint64) {
	return n.opportunities, n.successes, n.collided
}

// window is the contention window for the current retry stage.
func (st *station) window() uint32 {
	cw := uint64(st.cwMin+1)<<uint(st.retries) - 1
	if cw > uint64(st.cwMax) {
		cw = uint64(st.cwMax)
	}
	if cw < uint64(st.cwMin) {
		cw = uint64(st.cwMin)
	}
	return uint32(cw)
}

func (n *Network) step() {
	now := n.sched.Now()
	n.generate(now)

	n.opportunityCarry += float64(n.cfg.StepInterval) / float64(n.airtime)
	count := int(n.opportunityCarry)
	n.opportunityCarry -= float64(count)
	for i := 0; i < count; i++ {
		n.contend(now)
	}

	n.sched.Schedule(now.Add(n.cfg.StepInterval), n.step)
}

// generate enqueues the frames each active source produced during the step.
func (n *Network) generate(now time.Time) {
	perStep := n.cfg.DataRateMbps * 1e6 * n.cfg.StepInterval.Seconds() / float64(8*n.cfg.PacketSize)
	for _, st := range n.stations {
		if now.Before(st.start) {
			continue
		}
		st.arrivalCarry += perStep
		frames := int(st.arrivalCarry)
		st.arrivalCarry -= float64(frames)
		if frames == 0 {
			continue
		}

		id := flowstats.FlowID(st.node)
		n.monitor.RecordTx(id, uint64(frames))
		room := n.cfg.MaxQueueSize - len(st.queue)
		if room < 0 {
			room = 0
		}
		accepted := frames
		if accepted > room {
			accepted = room
		}
		for j := 0; j < accepted; j++ {
			st.queue = append(st.queue, now)
		}
		if dropped := frames - accepted; dropped > 0 {
			n.monitor.RecordLost(id, uint64(dropped))
		}
	}
}

// contend resolves a single transmission opportunity.
func (n *Network) contend(now time.Time) {
	n.opportunities++

	var winner *station
	attempts := 0
	for _, st := range n.stations {
		if len(st.queue) == 0 {
			continue
		}
		p := 2 / (float64(st.window()) + 1)
		if n.rng.Float64() >= p {
			continue
		}
		attempts++
		if st.retries > 0 {
			n.sink.Notify(collisions.Notification{
				Context: nodepath.MacTx(st.node),
				Kind:    collisions.KindRetry,
			})
		}
		if attempts == 1 {
			winner = st
			continue
		}
		// Every attempter beyond the first collides, and so does the first.
		if winner != nil {
			n.collide(winner)
			winner = nil
		}
		n.collide(st)
	}

	if attempts == 1 && winner != nil {
		n.successes++
		enqueued := winner.queue[0]
		winner.queue = winner.queue[1:]
		winner.retries = 0
		n.monitor.RecordRx(flowstats.FlowID(winner.node), uint64(n.cfg.PacketSize), now.Sub(enqueued)+n.airtime)
	}
	if attempts > 1 {
		n.collided++
	}
}

func (n *Network) collide(st *station) {
	st.retries++
	if st.retries <= n.cfg.RetryLimit {
		return
	}
	st.queue = st.queue[1:]
	st.retries = 0
	n.monitor.RecordLost(flowstats.FlowID(st.node), 1)
}
