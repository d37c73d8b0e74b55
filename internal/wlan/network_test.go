package wlan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/wifi-cw-sim/internal/collisions"
	"github.com/signalsfoundry/wifi-cw-sim/internal/control"
	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
	"github.com/signalsfoundry/wifi-cw-sim/internal/sim/engine"
	"github.com/signalsfoundry/wifi-cw-sim/timectrl"
)

type harness struct {
	eng     *engine.Engine
	net     *Network
	monitor *flowstats.Monitor
	queue   *collisions.Queue
	start   time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng := engine.New(timectrl.NewTimeController(start, timectrl.Accelerated), nil)
	mon := flowstats.NewMonitor()
	q := collisions.NewQueue()
	n, err := New(cfg, eng, mon, q, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &harness{eng: eng, net: n, monitor: mon, queue: q, start: start}
}

func (h *harness) run(t *testing.T, d time.Duration) {
	t.Helper()
	h.net.Start(context.Background(), h.start)
	h.eng.StopAt(h.start.Add(d))
	if err := h.eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSetParameter(t *testing.T) {
	h := newHarness(t, Config{Stations: 3})

	if err := h.net.SetParameter(nodepath.TxopAll(), control.ParamMaxCw, 64); err != nil {
		t.Fatalf("wildcard write: %v", err)
	}
	if err := h.net.SetParameter(nodepath.Txop(2), control.ParamMinCw, 32); err != nil {
		t.Fatalf("station write: %v", err)
	}
	for node := 1; node <= 3; node++ {
		if h.net.CwMax(node) != 64 {
			t.Fatalf("node %d CwMax = %d, want 64", node, h.net.CwMax(node))
		}
	}
	if h.net.CwMin(2) != 32 || h.net.CwMin(1) != DefaultCwMin || h.net.CwMin(3) != DefaultCwMin {
		t.Fatalf("CwMin = %d/%d/%d", h.net.CwMin(1), h.net.CwMin(2), h.net.CwMin(3))
	}

	if err := h.net.SetParameter(nodepath.Txop(1), "Aifsn", 2); !errors.Is(err, ErrUnknownParameter) {
		t.Fatalf("err = %v, want ErrUnknownParameter", err)
	}
	if err := h.net.SetParameter(nodepath.Txop(9), control.ParamMinCw, 2); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("err = %v, want ErrUnknownNode", err)
	}
	if err := h.net.SetParameter(nodepath.Txop(0), control.ParamMinCw, 2); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("AP write err = %v, want ErrUnknownNode", err)
	}
	if err := h.net.SetParameter("garbage", control.ParamMinCw, 2); !errors.Is(err, nodepath.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestAppliedThroughControl(t *testing.T) {
	h := newHarness(t, Config{Stations: 2})
	a := control.NewApplier(h.net, nil)

	if _, err := a.ApplyGlobal(context.Background(), 2); err != nil {
		t.Fatalf("ApplyGlobal: %v", err)
	}
	if _, err := a.ApplyStation(context.Background(), 1, 0); err != nil {
		t.Fatalf("ApplyStation: %v", err)
	}
	if h.net.CwMin(1) != 16 || h.net.CwMax(1) != 64 || h.net.CwMin(2) != 64 {
		t.Fatalf("windows = %d/%d %d", h.net.CwMin(1), h.net.CwMax(1), h.net.CwMin(2))
	}
}

func TestSingleStationNeverRetries(t *testing.T) {
	h := newHarness(t, Config{Stations: 1, Seed: 1})
	h.run(t, 2*time.Second)

	st := h.monitor.Snapshot().Get(1)
	if st.RxPackets == 0 || st.RxBytes != st.RxPackets*DefaultPacketSize {
		t.Fatalf("flow 1 = %+v", st)
	}
	if st.DelaySum <= 0 {
		t.Fatalf("DelaySum = %v, want > 0", st.DelaySum)
	}
	// Saturated load overflows the queue.
	if st.LostPackets == 0 {
		t.Fatalf("LostPackets = 0, want queue drops under saturation")
	}
	if h.queue.Len() != 0 {
		t.Fatalf("retry notifications = %d, want 0", h.queue.Len())
	}
	if h.net.QueueLen(1) > DefaultMaxQueueSize {
		t.Fatalf("queue length %d exceeds limit", h.net.QueueLen(1))
	}
}

func TestContentionProducesRetries(t *testing.T) {
	h := newHarness(t, Config{Stations: 4, Seed: 7})
	h.run(t, 2*time.Second)

	notes := h.queue.Drain()
	if len(notes) == 0 {
		t.Fatalf("no retry notifications with four saturated stations")
	}
	for _, n := range notes {
		node, err := nodepath.NodeIndex(n.Context)
		if err != nil || node < 1 || node > 4 || n.Kind != collisions.KindRetry {
			t.Fatalf("unexpected notification %+v", n)
		}
	}
	if _, _, collided := h.net.Counters(); collided == 0 {
		t.Fatalf("collided = 0")
	}
}

func TestSmallerWindowWinsMoreAirtime(t *testing.T) {
	h := newHarness(t, Config{Stations: 2, Seed: 3})
	if err := h.net.SetParameter(nodepath.Txop(1), control.ParamMinCw, 1); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	if err := h.net.SetParameter(nodepath.Txop(2), control.ParamMinCw, 1023); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}
	h.run(t, 2*time.Second)

	snap := h.monitor.Snapshot()
	if snap.Get(1).RxBytes <= snap.Get(2).RxBytes {
		t.Fatalf("rx bytes 1=%d 2=%d, want station 1 ahead", snap.Get(1).RxBytes, snap.Get(2).RxBytes)
	}
}

func TestFuzzDelaysTrafficStart(t *testing.T) {
	h := newHarness(t, Config{Stations: 3, FuzzTime: 5 * time.Second, Seed: 11})
	h.net.Start(context.Background(), h.start)
	h.eng.StopAt(h.start.Add(time.Millisecond))
	if err := h.eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var offered uint64
	snap := h.monitor.Snapshot()
	for _, id := range snap.IDs() {
		offered += snap.Get(id).TxPackets
	}
	if snap.Len() != 3 {
		t.Fatalf("registered flows = %d, want 3", snap.Len())
	}
	if offered != 0 {
		t.Fatalf("offered %d packets in the first millisecond of a 5s fuzz window", offered)
	}
}

func TestDeterministicForSeed(t *testing.T) {
	a := newHarness(t, Config{Stations: 3, Seed: 42, FuzzTime: 100 * time.Millisecond})
	b := newHarness(t, Config{Stations: 3, Seed: 42, FuzzTime: 100 * time.Millisecond})
	a.run(t, time.Second)
	b.run(t, time.Second)

	sa, sb := a.monitor.Snapshot(), b.monitor.Snapshot()
	for _, id := range sa.IDs() {
		if sa.Get(id) != sb.Get(id) {
			t.Fatalf("flow %d differs: %+v vs %+v", id, sa.Get(id), sb.Get(id))
		}
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Stations: -1}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	cfg = Config{}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Airtime() != 180*time.Microsecond {
		t.Fatalf("Airtime = %v, want 180µs", cfg.Airtime())
	}
}
