// Package collisions counts per-station delivery failures reported by the
// network and hands the interaction loop one-shot deltas of those counters.
package collisions

import (
	"context"
	"sync"

	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/internal/nodepath"
)

// Kind distinguishes the failure notifications a network can emit.
type Kind int

const (
	// KindRetry is a MAC transmission with the retry flag set. Node 0 counts
	// towards the access point aggregate, node n towards station slot n-1.
	KindRetry Kind = iota
	// KindPhyDrop is a frame dropped by the PHY. Counted at slot n.
	KindPhyDrop
	// KindMacDrop is a frame dropped by the MAC. Counted at slot n.
	KindMacDrop
)

func (k Kind) String() string {
	switch k {
	case KindRetry:
		return "retry"
	case KindPhyDrop:
		return "phy_drop"
	case KindMacDrop:
		return "mac_drop"
	default:
		return "unknown"
	}
}

// Notification is one delivery-failure event. Context is the trace path of
// the emitting node, e.g. "/NodeList/2/DeviceList/0/$ns3::WifiNetDevice/Mac/MacTx".
type Notification struct {
	Context string
	Kind    Kind
}

// Sink accepts notifications from the network.
type Sink interface {
	Notify(n Notification)
}

// Queue buffers notifications between the network and the tracker. It is
// safe for concurrent producers; the tracker drains it once per tick.
type Queue struct {
	mu      sync.Mutex
	pending []Notification
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Notify enqueues n. Implements Sink.
func (q *Queue) Notify(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, n)
}

// Drain removes and returns every queued notification in arrival order.
func (q *Queue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of queued notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Tracker owns the per-station drop counters. It is driven from the
// simulation goroutine only and does no locking of its own.
type Tracker struct {
	queue *Queue
	log   logging.Logger

	counters []uint64
	previous []uint64
	ap       uint64

	malformed uint64
}

// NewTracker creates a tracker with one slot per station, fed by queue.
func NewTracker(stations int, queue *Queue, log logging.Logger) *Tracker {
	if log == nil {
		log = logging.Noop()
	}
	if queue == nil {
		queue = NewQueue()
	}
	if stations < 0 {
		stations = 0
	}
	return &Tracker{
		queue:    queue,
		log:      log,
		counters: make([]uint64, stations),
		previous: make([]uint64, stations),
	}
}

// Queue returns the queue the tracker drains.
func (t *Tracker) Queue() *Queue {
	return t.queue
}

// Drain applies every queued notification and returns how many were read.
func (t *Tracker) Drain(ctx context.Context) int {
	pending := t.queue.Drain()
	for _, n := range pending {
		t.Record(ctx, n)
	}
	return len(pending)
}

// Record applies a single notification. Paths without a node index, or
// naming a node outside the tracked range, are counted as malformed and
// otherwise ignored.
func (t *Tracker) Record(ctx context.Context, n Notification) {
	node, err := nodepath.NodeIndex(n.Context)
	if err != nil {
		t.malformed++
		t.log.Debug(ctx, "ignoring malformed notification", logging.String("context", n.Context), logging.Err(err))
		return
	}

	slot := node
	if n.Kind == KindRetry {
		if node == 0 {
			t.ap++
			return
		}
		slot = node - 1
	}
	if slot >= len(t.counters) {
		t.malformed++
		t.log.Debug(ctx, "ignoring notification for untracked node",
			logging.Int("node", node),
			logging.String("kind", n.Kind.String()),
		)
		return
	}
	t.counters[slot]++
}

// Deltas drains the queue and returns, for slots 0..n-1, the counter
// growth since the previous call. The baseline moves forward as a side
// effect, so a second call without new notifications yields zeros.
func (t *Tracker) Deltas(ctx context.Context, n int) []uint64 {
	t.Drain(ctx)
	if n > len(t.counters) {
		n = len(t.counters)
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = t.counters[i] - t.previous[i]
		t.previous[i] = t.counters[i]
	}
	return out
}

// Count returns the cumulative counter of a slot.
func (t *Tracker) Count(slot int) uint64 {
	if slot < 0 || slot >= len(t.counters) {
		return 0
	}
	return t.counters[slot]
}

// Counts returns a copy of all station counters.
func (t *Tracker) Counts() []uint64 {
	return append([]uint64(nil), t.counters...)
}

// APCount returns the access point aggregate.
func (t *Tracker) APCount() uint64 {
	return t.ap
}

// Malformed returns how many notifications could not be attributed.
func (t *Tracker) Malformed() uint64 {
	return t.malformed
}

// Reset drops anything still queued and zeroes counters and baselines.
func (t *Tracker) Reset() {
	t.queue.Drain()
	for i := range t.counters {
		t.counters[i] = 0
		t.previous[i] = 0
	}
	t.ap = 0
}
