// Package flowstats holds cumulative per-flow traffic counters and the
// immutable snapshots the interaction loop computes deltas from.
package flowstats

import (
	"sort"
	"sync"
	"time"
)

// FlowID identifies a flow. Flow i carries the uplink traffic of station i.
type FlowID uint32

// FlowStats are the cumulative counters of one flow. They never decrease
// within a phase and return to zero on Reset.
type FlowStats struct {
	// TxPackets is the number of packets handed to the flow by its source.
	TxPackets uint64
	// RxPackets is the number of packets delivered to the sink.
	RxPackets uint64
	// RxBytes is the number of bytes delivered to the sink.
	RxBytes uint64
	// LostPackets counts packets dropped before delivery.
	LostPackets uint64
	// DelaySum is the summed end-to-end delay of delivered packets.
	DelaySum time.Duration
}

// Snapshot is an immutable view of every flow's counters captured at one
// instant. Flows that have not been observed read as zero.
type Snapshot struct {
	flows map[FlowID]FlowStats
}

// NewSnapshot builds a snapshot owning a private copy of flows.
func NewSnapshot(flows map[FlowID]FlowStats) Snapshot {
	cp := make(map[FlowID]FlowStats, len(flows))
	for id, st := range flows {
		cp[id] = st
	}
	return Snapshot{flows: cp}
}

// Get returns the counters of flow id, or zero counters when absent.
func (s Snapshot) Get(id FlowID) FlowStats {
	return s.flows[id]
}

// Len returns the number of flows in the snapshot.
func (s Snapshot) Len() int {
	return len(s.flows)
}

// IDs returns the flow ids in ascending order.
func (s Snapshot) IDs() []FlowID {
	ids := make([]FlowID, 0, len(s.flows))
	for id := range s.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Source is what the interaction loop consumes from the simulation.
type Source interface {
	Snapshot() Snapshot
	Reset()
}

// Monitor is a concurrency-safe store of cumulative flow counters. The
// network model records into it and the interaction loop snapshots it.
type Monitor struct {
	mu    sync.RWMutex
	flows map[FlowID]*FlowStats
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{flows: make(map[FlowID]*FlowStats)}
}

func (m *Monitor) flowLocked(id FlowID) *FlowStats {
	st, ok := m.flows[id]
	if !ok {
		st = &FlowStats{}
		m.flows[id] = st
	}
	return st
}

// Register makes flow id visible in snapshots before any traffic is seen.
func (m *Monitor) Register(id FlowID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowLocked(id)
}

// RecordTx counts packets offered by the source of flow id.
func (m *Monitor) RecordTx(id FlowID, packets uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowLocked(id).TxPackets += packets
}

// RecordRx counts one delivered packet of size bytes with the given delay.
func (m *Monitor) RecordRx(id FlowID, bytes uint64, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.flowLocked(id)
	st.RxPackets++
	st.RxBytes += bytes
	st.DelaySum += delay
}

// RecordLost counts packets of flow id dropped before delivery.
func (m *Monitor) RecordLost(id FlowID, packets uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flowLocked(id).LostPackets += packets
}

// Snapshot returns a copy of every flow's counters. Implements Source.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := make(map[FlowID]FlowStats, len(m.flows))
	for id, st := range m.flows {
		cp[id] = *st
	}
	return Snapshot{flows: cp}
}

// Reset zeroes all counters while keeping the set of known flows.
// Implements Source.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.flows {
		m.flows[id] = &FlowStats{}
	}
}
