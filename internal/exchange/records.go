// Package exchange implements the environment/action handshake between the
// simulation and a decision agent.
package exchange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/stats"
)

// Capacity is the number of station slots in both records.
const Capacity = 10

// DefaultKey is the shared key both parties use to find each other.
const DefaultKey = 2333

const (
	// EnvironmentSize is the encoded size of an Environment: four scalars
	// followed by four arrays of Capacity float64 values.
	EnvironmentSize = (4 + 4*Capacity) * 8
	// ActionSize is the encoded size of an Action: a bool padded to four
	// bytes followed by Capacity int32 values.
	ActionSize = 4 + 4*Capacity
)

var (
	// ErrCapacity is returned when more stations are offered than a record holds.
	ErrCapacity = errors.New("station count exceeds record capacity")
	// ErrShortBuffer is returned when decoding from a truncated buffer.
	ErrShortBuffer = errors.New("buffer too short")
)

// Environment is published to the agent once per interaction tick.
type Environment struct {
	// Fairness, Latency and PLR are reserved. The interaction loop leaves
	// them at zero.
	Fairness float64
	Latency  float64
	PLR      float64
	// Time is the simulated time in seconds since the end of the fuzz period.
	Time float64

	// Tx holds each station's received byte delta. The slot name is
	// historical; it does not count transmitted bytes.
	Tx         [Capacity]float64
	Lost       [Capacity]float64
	Throughput [Capacity]float64
	Collisions [Capacity]float64
}

// Action is the agent's answer to an Environment.
type Action struct {
	EndWarmup bool
	// CW holds one contention window exponent per station. Negative values
	// keep the station's current configuration.
	CW [Capacity]int32
}

// NoChange returns an action that leaves every station untouched.
func NoChange() Action {
	var a Action
	for i := range a.CW {
		a.CW[i] = -1
	}
	return a
}

// EnvironmentFromDeltas fills an Environment from per-station deltas.
// Station i lands in slot i-1.
func EnvironmentFromDeltas(deltas []stats.StationDelta, sinceFuzz time.Duration) (Environment, error) {
	var env Environment
	if len(deltas) > Capacity {
		return env, fmt.Errorf("%w: %d > %d", ErrCapacity, len(deltas), Capacity)
	}
	env.Time = sinceFuzz.Seconds()
	for i, d := range deltas {
		env.Tx[i] = float64(d.Bytes)
		env.Lost[i] = float64(d.LostPackets)
		env.Throughput[i] = d.ThroughputMbps
		env.Collisions[i] = float64(d.Collisions)
	}
	return env, nil
}

// MarshalBinary encodes e in the shared little-endian layout.
func (e Environment) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EnvironmentSize)
	off := 0
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
		off += 8
	}
	put(e.Fairness)
	put(e.Latency)
	put(e.PLR)
	put(e.Time)
	for _, arr := range [][Capacity]float64{e.Tx, e.Lost, e.Throughput, e.Collisions} {
		for _, v := range arr {
			put(v)
		}
	}
	return buf, nil
}

// UnmarshalBinary decodes the shared layout into e.
func (e *Environment) UnmarshalBinary(buf []byte) error {
	if len(buf) < EnvironmentSize {
		return fmt.Errorf("environment: %w: %d < %d", ErrShortBuffer, len(buf), EnvironmentSize)
	}
	off := 0
	get := func() float64 {
		v := math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
		off += 8
		return v
	}
	e.Fairness = get()
	e.Latency = get()
	e.PLR = get()
	e.Time = get()
	for _, arr := range []*[Capacity]float64{&e.Tx, &e.Lost, &e.Throughput, &e.Collisions} {
		for i := range arr {
			arr[i] = get()
		}
	}
	return nil
}

// MarshalBinary encodes a in the shared little-endian layout.
func (a Action) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ActionSize)
	if a.EndWarmup {
		buf[0] = 1
	}
	for i, cw := range a.CW {
		binary.LittleEndian.PutUint32(buf[4+4*i:], uint32(cw))
	}
	return buf, nil
}

// UnmarshalBinary decodes the shared layout into a.
func (a *Action) UnmarshalBinary(buf []byte) error {
	if len(buf) < ActionSize {
		return fmt.Errorf("action: %w: %d < %d", ErrShortBuffer, len(buf), ActionSize)
	}
	a.EndWarmup = buf[0] != 0
	for i := range a.CW {
		a.CW[i] = int32(binary.LittleEndian.Uint32(buf[4+4*i:]))
	}
	return nil
}
