package exchange

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrFinished is returned on both sides once the run has ended.
	ErrFinished = errors.New("exchange finished")
	// ErrNoPendingEnvironment is returned when an agent responds without
	// holding an environment.
	ErrNoPendingEnvironment = errors.New("no environment awaiting an action")
)

// AgentState is where the agent side of the handshake currently stands.
type AgentState int

const (
	// AwaitingEnvironment means the agent has no environment to answer.
	AwaitingEnvironment AgentState = iota
	// AwaitingAction means an environment was handed out and the
	// simulation is blocked until the agent responds.
	AwaitingAction
)

func (s AgentState) String() string {
	if s == AwaitingAction {
		return "awaiting_action"
	}
	return "awaiting_environment"
}

// envelope tags an environment with the exchange that published it.
type envelope struct {
	env Environment
	seq uint64
}

// answer is an action tagged with the environment it responds to.
type answer struct {
	act Action
	seq uint64
}

// Channel is a strict request/response rendezvous: the simulation offers
// one Environment and blocks until the agent answers with one Action.
// There is never more than one of each in flight. An answer to an
// environment whose exchange was abandoned is dropped, never paired with
// a later environment.
type Channel struct {
	key int

	env  chan envelope
	act  chan answer
	done chan struct{}

	finishOnce sync.Once
	simMu      sync.Mutex // serialises Exchange callers
	seq        uint64     // guarded by simMu

	mu        sync.Mutex
	pending   *envelope
	exchanges uint64
	stale     uint64
}

// NewChannel creates a channel identified by key.
func NewChannel(key int) *Channel {
	return &Channel{
		key:  key,
		env:  make(chan envelope),
		act:  make(chan answer, 1),
		done: make(chan struct{}),
	}
}

// Key returns the shared key of the channel.
func (c *Channel) Key() int {
	return c.key
}

// Exchange publishes env and blocks until the agent has consumed it and
// produced an action. Only ctx cancellation or Finish end the wait; there
// is no timeout.
func (c *Channel) Exchange(ctx context.Context, env Environment) (Action, error) {
	c.simMu.Lock()
	defer c.simMu.Unlock()

	c.seq++
	seq := c.seq

	// Discard an answer left over from an aborted exchange.
	select {
	case <-c.act:
		c.dropStale()
	default:
	}

	select {
	case c.env <- envelope{env: env, seq: seq}:
	case <-c.done:
		return Action{}, ErrFinished
	case <-ctx.Done():
		return Action{}, ctx.Err()
	}

	for {
		select {
		case ans := <-c.act:
			if ans.seq != seq {
				c.dropStale()
				continue
			}
			c.mu.Lock()
			c.exchanges++
			c.mu.Unlock()
			return ans.act, nil
		case <-c.done:
			return Action{}, ErrFinished
		case <-ctx.Done():
			return Action{}, ctx.Err()
		}
	}
}

func (c *Channel) dropStale() {
	c.mu.Lock()
	c.stale++
	c.mu.Unlock()
}

// Receive blocks until the simulation publishes an environment. If a
// previously received environment has not been answered yet it is
// returned again, so an agent that reconnects resumes the same exchange.
func (c *Channel) Receive(ctx context.Context) (Environment, error) {
	c.mu.Lock()
	if c.pending != nil {
		env := c.pending.env
		c.mu.Unlock()
		return env, nil
	}
	c.mu.Unlock()

	select {
	case e := <-c.env:
		c.mu.Lock()
		c.pending = &e
		c.mu.Unlock()
		return e.env, nil
	case <-c.done:
		return Environment{}, ErrFinished
	case <-ctx.Done():
		return Environment{}, ctx.Err()
	}
}

// Respond hands the agent's action back to the blocked simulation. If the
// exchange that published the environment has since been abandoned, the
// action is discarded by the next Exchange.
func (c *Channel) Respond(a Action) error {
	select {
	case <-c.done:
		return ErrFinished
	default:
	}

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return ErrNoPendingEnvironment
	}
	seq := c.pending.seq
	c.pending = nil
	c.mu.Unlock()

	c.act <- answer{act: a, seq: seq}
	return nil
}

// State reports the agent side of the handshake.
func (c *Channel) State() AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return AwaitingAction
	}
	return AwaitingEnvironment
}

// Exchanges returns the number of completed exchanges.
func (c *Channel) Exchanges() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exchanges
}

// Stale returns the number of answers dropped because their exchange had
// been abandoned.
func (c *Channel) Stale() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Finish ends the run for both parties. It is safe to call more than once.
func (c *Channel) Finish() {
	c.finishOnce.Do(func() { close(c.done) })
}

// Finished reports whether Finish has been called.
func (c *Channel) Finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done is closed when the run has finished.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}
