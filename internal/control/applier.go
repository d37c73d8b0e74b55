// Package control translates contention window exponents into parameter
// writes on the simulated network.
package control

import (
	"context"

	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
)

const (
	// ParamMinCw is the lower bound of the contention window.
	ParamMinCw = "MinCws"
	// ParamMaxCw is the upper bound of the contention window.
	ParamMaxCw = "MaxCws"

	// baseExponent offsets the agent's exponent so x=0 means a window of 16.
	baseExponent = 4
	// maxExponent keeps 2^(4+x) inside a uint32.
	maxExponent = 31 - baseExponent
)

// Writer sets a named parameter on every object matched by scopePath.
type Writer interface {
	SetParameter(scopePath, name string, value uint32) error
}

// WindowSize returns 2^(4+x) for x >= 0.
func WindowSize(x int) uint32 {
	return uint32(1) << uint(baseExponent+x)
}

// Applier issues contention window writes. It holds no state of its own
// besides the writer.
type Applier struct {
	w   Writer
	log logging.Logger
}

// NewApplier creates an applier writing through w.
func NewApplier(w Writer, log logging.Logger) *Applier {
	if log == nil {
		log = logging.Noop()
	}
	return &Applier{w: w, log: log}
}

// ApplyGlobal sets MinCws and MaxCws of every node to WindowSize(x).
// A negative x leaves the configuration untouched and reports false, as
// does an x whose window would not fit in a uint32.
func (a *Applier) ApplyGlobal(ctx context.Context, x int) (bool, error) {
	if x < 0 {
		return false, nil
	}
	if x > maxExponent {
		a.log.Warn(ctx, "contention window exponent out of range; ignored",
			logging.Int("exponent", x),
			logging.Int("max_exponent", maxExponent),
		)
		return false, nil
	}
	size := WindowSize(x)
	scope := nodepath.TxopAll()
	if err := a.w.SetParameter(scope, ParamMinCw, size); err != nil {
		return false, err
	}
	if err := a.w.SetParameter(scope, ParamMaxCw, size); err != nil {
		return false, err
	}
	a.log.Debug(ctx, "applied global contention window",
		logging.Int("exponent", x),
		logging.Int("window", int(size)),
	)
	return true, nil
}

// ApplyStation sets MinCws of node to WindowSize(x). MaxCws is left as is.
// A negative or oversized x leaves the node untouched and reports false.
// Range checking of node is up to the caller.
func (a *Applier) ApplyStation(ctx context.Context, node, x int) (bool, error) {
	if x < 0 {
		return false, nil
	}
	if x > maxExponent {
		a.log.Warn(ctx, "contention window exponent out of range; ignored",
			logging.Int("node", node),
			logging.Int("exponent", x),
			logging.Int("max_exponent", maxExponent),
		)
		return false, nil
	}
	size := WindowSize(x)
	if err := a.w.SetParameter(nodepath.Txop(node), ParamMinCw, size); err != nil {
		return false, err
	}
	a.log.Debug(ctx, "applied station contention window",
		logging.Int("node", node),
		logging.Int("exponent", x),
		logging.Int("window", int(size)),
	)
	return true, nil
}
