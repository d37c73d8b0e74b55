// Package agent contains the built-in decision agents: one multi-armed
// bandit per cheating station choosing its contention window exponent.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
)

// Kind names a bandit algorithm.
type Kind string

const (
	// KindNone runs without an agent; warmup ends with the fuzz period.
	KindNone    Kind = "wifi"
	KindEGreedy Kind = "EGreedy"
	KindUCB     Kind = "UCB"
)

// ErrUnknownKind is returned for unsupported agent names.
var ErrUnknownKind = errors.New("unknown agent kind")

// ParseKind maps an agent name to a Kind, case-insensitively.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "", "wifi", "none":
		return KindNone, nil
	case "egreedy":
		return KindEGreedy, nil
	case "ucb":
		return KindUCB, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}

// Config tunes the agent.
type Config struct {
	Kind Kind
	// Arms is the number of contention window exponents to choose from.
	Arms int

	Epsilon         float64
	OptimisticStart float64
	C               float64

	// UseWarmup keeps the network in warmup until the choices settle or
	// MaxWarmup passes. When false warmup ends on the first exchange.
	UseWarmup bool
	MaxWarmup time.Duration
	// HistoryLen and Threshold define "settled": over the last HistoryLen
	// choices of every station, one arm was picked more than Threshold of
	// the time.
	HistoryLen int
	Threshold  float64

	Seed uint64
}

// DefaultConfig returns the tuning used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		Kind:            KindUCB,
		Arms:            7,
		Epsilon:         0.05,
		OptimisticStart: 1.0,
		C:               0.01,
		MaxWarmup:       50 * time.Second,
		HistoryLen:      20,
		Threshold:       0.9,
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Arms <= 0 {
		c.Arms = d.Arms
	}
	if c.MaxWarmup <= 0 {
		c.MaxWarmup = d.MaxWarmup
	}
	if c.HistoryLen <= 0 {
		c.HistoryLen = d.HistoryLen
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
}

// Source is the agent side of an environment/action exchange.
type Source interface {
	Receive(ctx context.Context) (exchange.Environment, error)
	Respond(a exchange.Action) error
}

// Agent holds one bandit per cheating station.
type Agent struct {
	cfg      Config
	cheaters int
	log      logging.Logger
	rng      *rand.Rand

	bandits []Bandit
	last    []int
	history [][]int
	decided uint64
}

// New builds an agent for cheaters stations.
func New(cfg Config, cheaters int, log logging.Logger) (*Agent, error) {
	cfg.ApplyDefaults()
	if cheaters < 1 || cheaters > exchange.Capacity {
		return nil, fmt.Errorf("agent needs 1..%d stations, got %d", exchange.Capacity, cheaters)
	}
	if log == nil {
		log = logging.Noop()
	}

	a := &Agent{
		cfg:      cfg,
		cheaters: cheaters,
		log:      log,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		last:     make([]int, cheaters),
		history:  make([][]int, cheaters),
	}
	for i := 0; i < cheaters; i++ {
		var b Bandit
		switch cfg.Kind {
		case KindEGreedy:
			b = NewEGreedy(cfg.Arms, cfg.Epsilon, cfg.OptimisticStart)
		case KindUCB:
			b = NewUCB(cfg.Arms, cfg.C)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, cfg.Kind)
		}
		a.bandits = append(a.bandits, b)
		a.last[i] = -1
	}
	return a, nil
}

// Reward scores station slot i: one minus collisions per "tx" unit, or
// zero when nothing was sent.
func Reward(env exchange.Environment, i int) float64 {
	tx := env.Tx[i]
	if tx == 0 {
		return 0
	}
	return 1 - env.Collisions[i]/tx
}

// Decide credits the previous choices with this environment's rewards and
// picks the next exponent for every cheater.
func (a *Agent) Decide(ctx context.Context, env exchange.Environment) exchange.Action {
	act := exchange.NoChange()
	for i := 0; i < a.cheaters; i++ {
		r := Reward(env, i)
		if a.last[i] >= 0 {
			a.bandits[i].Update(a.last[i], r)
		}
		arm := a.bandits[i].Select(a.rng)
		a.last[i] = arm
		act.CW[i] = int32(arm)

		h := append(a.history[i], arm)
		if len(h) > a.cfg.HistoryLen {
			h = h[len(h)-a.cfg.HistoryLen:]
		}
		a.history[i] = h
	}
	act.EndWarmup = a.endWarmup(env.Time)
	a.decided++

	a.log.Debug(ctx, "agent decision",
		logging.Float64("time", env.Time),
		logging.Any("cw", act.CW[:a.cheaters]),
		logging.Bool("end_warmup", act.EndWarmup),
	)
	return act
}

// Exchange answers env directly. It lets the loop drive the agent without
// a channel in between.
func (a *Agent) Exchange(ctx context.Context, env exchange.Environment) (exchange.Action, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Action{}, err
	}
	return a.Decide(ctx, env), nil
}

func (a *Agent) endWarmup(simTime float64) bool {
	if !a.cfg.UseWarmup || simTime > a.cfg.MaxWarmup.Seconds() {
		return true
	}
	for _, h := range a.history {
		if len(h) < a.cfg.HistoryLen || dominantShare(h) <= a.cfg.Threshold {
			return false
		}
	}
	return true
}

// dominantShare is the frequency of the most common value in h.
func dominantShare(h []int) float64 {
	counts := make(map[int]int, len(h))
	best := 0
	for _, v := range h {
		counts[v]++
		if counts[v] > best {
			best = counts[v]
		}
	}
	return float64(best) / float64(len(h))
}

// Run answers environments from src until the run finishes or ctx is
// cancelled. A finished run is not an error.
func (a *Agent) Run(ctx context.Context, src Source) error {
	a.log.Info(ctx, "agent started",
		logging.String("kind", string(a.cfg.Kind)),
		logging.Int("cheaters", a.cheaters),
		logging.Int("arms", a.cfg.Arms),
	)
	for {
		env, err := src.Receive(ctx)
		if err != nil {
			if errors.Is(err, exchange.ErrFinished) {
				a.log.Info(ctx, "agent finished", logging.Uint64("decisions", a.decided))
				return nil
			}
			return err
		}
		if err := src.Respond(a.Decide(ctx, env)); err != nil {
			if errors.Is(err, exchange.ErrFinished) {
				return nil
			}
			return fmt.Errorf("respond: %w", err)
		}
	}
}

// Decisions returns how many environments were answered.
func (a *Agent) Decisions() uint64 {
	return a.decided
}

// Last returns the most recent exponent chosen for cheater slot i, or -1.
func (a *Agent) Last(i int) int {
	if i < 0 || i >= len(a.last) {
		return -1
	}
	return a.last[i]
}
