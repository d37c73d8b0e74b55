package collisions

import (
	"context"
	"sync"
	"testing"

	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
)

func TestRetryAttribution(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(3, nil, nil)

	tr.Record(ctx, Notification{Context: nodepath.MacTx(0), Kind: KindRetry})
	tr.Record(ctx, Notification{Context: nodepath.MacTx(1), Kind: KindRetry})
	tr.Record(ctx, Notification{Context: nodepath.MacTx(3), Kind: KindRetry})
	tr.Record(ctx, Notification{Context: nodepath.MacTx(3), Kind: KindRetry})

	if got := tr.APCount(); got != 1 {
		t.Fatalf("APCount() = %d, want 1", got)
	}
	want := []uint64{1, 0, 2}
	got := tr.Counts()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Counts() = %v, want %v", got, want)
		}
	}
}

func TestDropAttributionUsesNodeIndexDirectly(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(3, nil, nil)

	tr.Record(ctx, Notification{Context: nodepath.PhyTxDrop(0), Kind: KindPhyDrop})
	tr.Record(ctx, Notification{Context: nodepath.PhyTxDrop(2), Kind: KindMacDrop})

	if tr.Count(0) != 1 || tr.Count(2) != 1 {
		t.Fatalf("Counts() = %v, want [1 0 1]", tr.Counts())
	}
	if tr.APCount() != 0 {
		t.Fatalf("drops must not touch the AP aggregate")
	}
}

func TestMalformedNotificationsAreIgnored(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(2, nil, nil)

	tr.Record(ctx, Notification{Context: "garbage", Kind: KindRetry})
	tr.Record(ctx, Notification{Context: nodepath.MacTx(9), Kind: KindRetry})

	if tr.Malformed() != 2 {
		t.Fatalf("Malformed() = %d, want 2", tr.Malformed())
	}
	if tr.Count(0) != 0 || tr.Count(1) != 0 {
		t.Fatalf("malformed notifications changed counters: %v", tr.Counts())
	}
}

func TestDeltasAreOneShot(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	tr := NewTracker(2, q, nil)

	q.Notify(Notification{Context: nodepath.MacTx(1), Kind: KindRetry})
	q.Notify(Notification{Context: nodepath.MacTx(2), Kind: KindRetry})
	q.Notify(Notification{Context: nodepath.MacTx(2), Kind: KindRetry})

	first := tr.Deltas(ctx, 2)
	if first[0] != 1 || first[1] != 2 {
		t.Fatalf("first Deltas() = %v, want [1 2]", first)
	}

	second := tr.Deltas(ctx, 2)
	if second[0] != 0 || second[1] != 0 {
		t.Fatalf("second Deltas() = %v, want [0 0]", second)
	}

	q.Notify(Notification{Context: nodepath.MacTx(1), Kind: KindRetry})
	third := tr.Deltas(ctx, 2)
	if third[0] != 1 || third[1] != 0 {
		t.Fatalf("third Deltas() = %v, want [1 0]", third)
	}
	if tr.Count(0) != 2 {
		t.Fatalf("cumulative count = %d, want 2", tr.Count(0))
	}
}

func TestDeltasWithoutCollisionsStayZero(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(4, nil, nil)

	for tick := 0; tick < 10; tick++ {
		for i, d := range tr.Deltas(ctx, 4) {
			if d != 0 {
				t.Fatalf("tick %d slot %d delta = %d, want 0", tick, i, d)
			}
		}
	}
}

func TestDeltasClampToTrackedSlots(t *testing.T) {
	tr := NewTracker(2, nil, nil)
	if got := len(tr.Deltas(context.Background(), 5)); got != 2 {
		t.Fatalf("len(Deltas(5)) = %d, want 2", got)
	}
}

func TestResetClearsCountersAndBaseline(t *testing.T) {
	ctx := context.Background()
	q := NewQueue()
	tr := NewTracker(1, q, nil)

	q.Notify(Notification{Context: nodepath.MacTx(1), Kind: KindRetry})
	q.Notify(Notification{Context: nodepath.MacTx(0), Kind: KindRetry})
	tr.Deltas(ctx, 1)
	q.Notify(Notification{Context: nodepath.MacTx(1), Kind: KindRetry})

	tr.Reset()

	if tr.Count(0) != 0 || tr.APCount() != 0 || q.Len() != 0 {
		t.Fatalf("reset left state behind: counts=%v ap=%d queued=%d", tr.Counts(), tr.APCount(), q.Len())
	}
	q.Notify(Notification{Context: nodepath.MacTx(1), Kind: KindRetry})
	if d := tr.Deltas(ctx, 1); d[0] != 1 {
		t.Fatalf("delta after reset = %d, want 1", d[0])
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Notify(Notification{Context: nodepath.MacTx(1), Kind: KindRetry})
			}
		}()
	}
	wg.Wait()

	tr := NewTracker(1, q, nil)
	if n := tr.Drain(context.Background()); n != 800 {
		t.Fatalf("Drain() = %d, want 800", n)
	}
	if tr.Count(0) != 800 {
		t.Fatalf("Count(0) = %d, want 800", tr.Count(0))
	}
}
