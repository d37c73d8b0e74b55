package stats

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/collisions"
	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
)

func TestComputeDeltas(t *testing.T) {
	ctx := context.Background()
	q := collisions.NewQueue()
	tr := collisions.NewTracker(3, q, nil)
	agg := NewAggregator(2, 500*time.Millisecond, tr)

	agg.Rebase(flowstats.NewSnapshot(map[flowstats.FlowID]flowstats.FlowStats{
		1: {RxBytes: 1000, LostPackets: 1},
		2: {RxBytes: 0},
	}))
	q.Notify(collisions.Notification{Context: nodepath.MacTx(2), Kind: collisions.KindRetry})
	q.Notify(collisions.Notification{Context: nodepath.MacTx(2), Kind: collisions.KindRetry})

	cur := flowstats.NewSnapshot(map[flowstats.FlowID]flowstats.FlowStats{
		1: {RxBytes: 63500, LostPackets: 4},
		2: {RxBytes: 125000},
		3: {RxBytes: 999999},
	})
	got := agg.Compute(ctx, cur)

	if len(got) != 2 {
		t.Fatalf("len(deltas) = %d, want 2 (cheaters only)", len(got))
	}
	if got[0].Station != 1 || got[0].Bytes != 62500 || got[0].LostPackets != 3 || got[0].Collisions != 0 {
		t.Fatalf("station 1 delta = %+v", got[0])
	}
	// 62500 B over 0.5 s = 1 Mb/s
	if math.Abs(got[0].ThroughputMbps-1.0) > 1e-9 {
		t.Fatalf("station 1 throughput = %v, want 1.0", got[0].ThroughputMbps)
	}
	if got[1].Bytes != 125000 || got[1].Collisions != 2 {
		t.Fatalf("station 2 delta = %+v", got[1])
	}
	if math.Abs(got[1].ThroughputMbps-2.0) > 1e-9 {
		t.Fatalf("station 2 throughput = %v, want 2.0", got[1].ThroughputMbps)
	}
	if agg.Previous().Get(1).RxBytes != 63500 {
		t.Fatalf("previous snapshot was not advanced")
	}
}

func TestComputeIsZeroWithoutTraffic(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(3, time.Second, collisions.NewTracker(3, nil, nil))
	snap := flowstats.NewSnapshot(map[flowstats.FlowID]flowstats.FlowStats{
		1: {RxBytes: 10}, 2: {RxBytes: 20}, 3: {RxBytes: 30},
	})
	agg.Rebase(snap)

	for tick := 0; tick < 5; tick++ {
		var total float64
		for _, d := range agg.Compute(ctx, snap) {
			if d.ThroughputMbps < 0 {
				t.Fatalf("negative throughput %v", d.ThroughputMbps)
			}
			if d.Collisions != 0 {
				t.Fatalf("tick %d station %d collisions = %d, want 0", tick, d.Station, d.Collisions)
			}
			total += d.ThroughputMbps
		}
		if total != 0 {
			t.Fatalf("tick %d total throughput = %v, want 0", tick, total)
		}
	}
}

func TestComputeSecondCallSeesNoNewCollisions(t *testing.T) {
	ctx := context.Background()
	q := collisions.NewQueue()
	agg := NewAggregator(1, time.Second, collisions.NewTracker(1, q, nil))
	q.Notify(collisions.Notification{Context: nodepath.MacTx(1), Kind: collisions.KindRetry})

	snap := flowstats.NewSnapshot(nil)
	if d := agg.Compute(ctx, snap); d[0].Collisions != 1 {
		t.Fatalf("first collisions = %d, want 1", d[0].Collisions)
	}
	if d := agg.Compute(ctx, snap); d[0].Collisions != 0 {
		t.Fatalf("second collisions = %d, want 0", d[0].Collisions)
	}
}

func TestComputeClampsCountersThatWentBackwards(t *testing.T) {
	agg := NewAggregator(1, time.Second, nil)
	agg.Rebase(flowstats.NewSnapshot(map[flowstats.FlowID]flowstats.FlowStats{1: {RxBytes: 500}}))

	d := agg.Compute(context.Background(), flowstats.NewSnapshot(map[flowstats.FlowID]flowstats.FlowStats{1: {RxBytes: 100}}))
	if d[0].Bytes != 0 || d[0].ThroughputMbps != 0 {
		t.Fatalf("delta after counter reset = %+v, want zero", d[0])
	}
}
