package flowstats

import (
	"testing"
	"time"
)

func TestMonitorRecordsCounters(t *testing.T) {
	m := NewMonitor()

	m.RecordTx(1, 3)
	m.RecordRx(1, 1500, 2*time.Millisecond)
	m.RecordRx(1, 1500, 4*time.Millisecond)
	m.RecordLost(1, 1)

	got := m.Snapshot().Get(1)
	want := FlowStats{TxPackets: 3, RxPackets: 2, RxBytes: 3000, LostPackets: 1, DelaySum: 6 * time.Millisecond}
	if got != want {
		t.Fatalf("flow 1 = %+v, want %+v", got, want)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	m := NewMonitor()
	m.RecordRx(2, 100, 0)

	snap := m.Snapshot()
	m.RecordRx(2, 100, 0)

	if got := snap.Get(2).RxBytes; got != 100 {
		t.Fatalf("snapshot changed after later traffic: RxBytes = %d, want 100", got)
	}
	if got := m.Snapshot().Get(2).RxBytes; got != 200 {
		t.Fatalf("monitor RxBytes = %d, want 200", got)
	}
}

func TestNewSnapshotCopiesInput(t *testing.T) {
	in := map[FlowID]FlowStats{1: {RxBytes: 10}}
	snap := NewSnapshot(in)
	in[1] = FlowStats{RxBytes: 99}

	if got := snap.Get(1).RxBytes; got != 10 {
		t.Fatalf("snapshot aliases its input: RxBytes = %d, want 10", got)
	}
}

func TestResetKeepsFlows(t *testing.T) {
	m := NewMonitor()
	m.Register(1)
	m.Register(2)
	m.RecordTx(2, 5)

	m.Reset()

	snap := m.Snapshot()
	if snap.Len() != 2 {
		t.Fatalf("Len() after reset = %d, want 2", snap.Len())
	}
	if got := snap.Get(2); got != (FlowStats{}) {
		t.Fatalf("flow 2 after reset = %+v, want zero", got)
	}
	ids := snap.IDs()
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("IDs() = %v, want [1 2]", ids)
	}
}

func TestMissingFlowReadsZero(t *testing.T) {
	snap := NewMonitor().Snapshot()
	if got := snap.Get(7); got != (FlowStats{}) {
		t.Fatalf("missing flow = %+v, want zero", got)
	}
}
