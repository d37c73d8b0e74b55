// Package stats turns cumulative flow counters into per-interval station
// deltas and the end-of-run summary.
package stats

import (
	"context"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/collisions"
	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
)

// StationDelta is what one station did during one interaction interval.
type StationDelta struct {
	// Station is the 1-based station index (equal to its flow id).
	Station int
	// ThroughputMbps is the received goodput over the interval.
	ThroughputMbps float64
	// LostPackets is the growth of the flow's lost packet counter.
	LostPackets uint64
	// Bytes is the growth of the flow's received byte counter. The agent
	// protocol publishes it in the "tx" slot.
	Bytes uint64
	// Collisions is the growth of the station's drop counter.
	Collisions uint64
}

// Aggregator owns the previous snapshot and computes deltas against it.
// Only stations 1..cheaters are covered.
type Aggregator struct {
	cheaters int
	interval time.Duration
	tracker  *collisions.Tracker

	previous flowstats.Snapshot
}

// NewAggregator creates an aggregator for the given number of cheating
// stations and interaction interval.
func NewAggregator(cheaters int, interval time.Duration, tracker *collisions.Tracker) *Aggregator {
	return &Aggregator{
		cheaters: cheaters,
		interval: interval,
		tracker:  tracker,
		previous: flowstats.NewSnapshot(nil),
	}
}

// Rebase replaces the previous snapshot without computing deltas.
func (a *Aggregator) Rebase(s flowstats.Snapshot) {
	a.previous = s
}

// Previous returns the snapshot the next Compute call diffs against.
func (a *Aggregator) Previous() flowstats.Snapshot {
	return a.previous
}

// Compute diffs current against the previous snapshot, reads the
// tracker's collision deltas, and keeps current as the new baseline.
func (a *Aggregator) Compute(ctx context.Context, current flowstats.Snapshot) []StationDelta {
	var drops []uint64
	if a.tracker != nil {
		drops = a.tracker.Deltas(ctx, a.cheaters)
	}

	seconds := a.interval.Seconds()
	out := make([]StationDelta, a.cheaters)
	for i := 1; i <= a.cheaters; i++ {
		cur := current.Get(flowstats.FlowID(i))
		prev := a.previous.Get(flowstats.FlowID(i))

		bytes := sub(cur.RxBytes, prev.RxBytes)
		d := StationDelta{
			Station:     i,
			Bytes:       bytes,
			LostPackets: sub(cur.LostPackets, prev.LostPackets),
		}
		if seconds > 0 {
			d.ThroughputMbps = 8 * float64(bytes) / (1e6 * seconds)
		}
		if i-1 < len(drops) {
			d.Collisions = drops[i-1]
		}
		out[i-1] = d
	}

	a.previous = current
	return out
}

// sub returns a-b, or zero when a counter went backwards.
func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
