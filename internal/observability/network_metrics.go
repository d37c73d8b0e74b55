package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NetworkCollector exposes counters of the simulated cell.
type NetworkCollector struct {
	gatherer prometheus.Gatherer

	Opportunities prometheus.Counter
	Successes     prometheus.Counter
	Collisions    prometheus.Counter
	EventsRun     prometheus.Counter

	last struct{ opportunities, successes, collisions, events uint64 }
}

// NewNetworkCollector registers network metrics against the provided registerer.
func NewNetworkCollector(reg prometheus.Registerer) (*NetworkCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	opportunities, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifisim_channel_opportunities_total",
		Help: "Transmission opportunities resolved by the contention model.",
	}), "wifisim_channel_opportunities_total")
	if err != nil {
		return nil, err
	}
	successes, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifisim_channel_successes_total",
		Help: "Opportunities won by exactly one station.",
	}), "wifisim_channel_successes_total")
	if err != nil {
		return nil, err
	}
	collisions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifisim_channel_collisions_total",
		Help: "Opportunities in which two or more stations transmitted.",
	}), "wifisim_channel_collisions_total")
	if err != nil {
		return nil, err
	}
	events, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wifisim_engine_events_total",
		Help: "Callbacks executed by the discrete-event engine.",
	}), "wifisim_engine_events_total")
	if err != nil {
		return nil, err
	}

	return &NetworkCollector{
		gatherer:      gatherer,
		Opportunities: opportunities,
		Successes:     successes,
		Collisions:    collisions,
		EventsRun:     events,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *NetworkCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Update advances the counters to the given cumulative totals. Totals
// lower than the previous call are ignored.
func (c *NetworkCollector) Update(opportunities, successes, collisions, events uint64) {
	if c == nil {
		return
	}
	add(c.Opportunities, &c.last.opportunities, opportunities)
	add(c.Successes, &c.last.successes, successes)
	add(c.Collisions, &c.last.collisions, collisions)
	add(c.EventsRun, &c.last.events, events)
}

func add(counter prometheus.Counter, last *uint64, total uint64) {
	if total <= *last {
		return
	}
	if counter != nil {
		counter.Add(float64(total - *last))
	}
	*last = total
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
