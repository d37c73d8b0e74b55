package stats

import (
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
)

// Summary is the end-of-run aggregate over the measurement phase.
type Summary struct {
	Stations         int
	ActiveFlows      int // flows with non-zero throughput
	Cheaters         int
	AgentDriven      bool
	Duration         time.Duration
	WarmupEnd        time.Duration
	ThroughputMbps   float64
	Fairness         float64 // Jain's index over active flows
	PLR              float64
	LatencySum       time.Duration
	LatencyPerPacket time.Duration

	LostPackets uint64
	TxPackets   uint64
	RxPackets   uint64

	CheaterThroughputMbps    float64
	CheaterAvgThroughputMbps float64
	NormalThroughputMbps     float64
	NormalAvgThroughputMbps  float64

	// PerFlowMbps holds each flow's throughput keyed by flow id.
	PerFlowMbps map[flowstats.FlowID]float64
}

// SummaryInput carries what Summarize needs beyond the snapshot.
type SummaryInput struct {
	Stations    int
	Cheaters    int
	AgentDriven bool
	Duration    time.Duration
	WarmupEnd   time.Duration
}

// Summarize computes throughput, fairness, loss and latency figures from
// the counters accumulated over in.Duration. Cheater/normal splits are only
// meaningful when an agent drove the cheaters; otherwise the normal
// average covers every station.
func Summarize(snap flowstats.Snapshot, in SummaryInput) Summary {
	s := Summary{
		Stations:    in.Stations,
		Cheaters:    in.Cheaters,
		AgentDriven: in.AgentDriven,
		Duration:    in.Duration,
		WarmupEnd:   in.WarmupEnd,
		PerFlowMbps: make(map[flowstats.FlowID]float64, snap.Len()),
	}
	seconds := in.Duration.Seconds()
	rate := func(bytes uint64) float64 {
		if seconds <= 0 {
			return 0
		}
		return 8 * float64(bytes) / (1e6 * seconds)
	}

	var sumSq float64
	for _, id := range snap.IDs() {
		st := snap.Get(id)
		flow := rate(st.RxBytes)
		s.PerFlowMbps[id] = flow
		if flow > 0 {
			s.ActiveFlows++
		}
		s.ThroughputMbps += flow
		sumSq += flow * flow

		s.LatencySum += st.DelaySum
		s.LostPackets += st.LostPackets
		s.TxPackets += st.TxPackets
		s.RxPackets += st.RxPackets
	}

	if s.ActiveFlows > 0 && sumSq > 0 {
		s.Fairness = s.ThroughputMbps * s.ThroughputMbps / (float64(s.ActiveFlows) * sumSq)
	}
	if s.TxPackets > 0 {
		s.PLR = float64(s.LostPackets) / float64(s.TxPackets)
		s.LatencyPerPacket = s.LatencySum / time.Duration(s.TxPackets)
	}

	if !in.AgentDriven {
		if in.Stations > 0 {
			s.NormalAvgThroughputMbps = s.ThroughputMbps / float64(in.Stations)
		}
		return s
	}

	for i := 1; i <= in.Cheaters; i++ {
		s.CheaterThroughputMbps += rate(snap.Get(flowstats.FlowID(i)).RxBytes)
	}
	for i := in.Cheaters + 1; i <= in.Stations; i++ {
		s.NormalThroughputMbps += rate(snap.Get(flowstats.FlowID(i)).RxBytes)
	}
	if in.Cheaters > 0 {
		s.CheaterAvgThroughputMbps = s.CheaterThroughputMbps / float64(in.Cheaters)
	}
	if normals := in.Stations - in.Cheaters; normals > 0 {
		s.NormalAvgThroughputMbps = s.NormalThroughputMbps / float64(normals)
	}
	return s
}
