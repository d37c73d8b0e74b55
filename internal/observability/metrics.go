package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoopCollector bundles Prometheus metrics for the interaction loop and the
// agent bridge, and provides helpers to wire them into gRPC servers and
// HTTP handlers.
type LoopCollector struct {
	gatherer prometheus.Gatherer

	Ticks            *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	Phase            prometheus.Gauge
	WarmupSeconds    prometheus.Gauge

	StationThroughput *prometheus.GaugeVec
	StationCollisions *prometheus.CounterVec
	StationWindow     *prometheus.GaugeVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewLoopCollector registers loop metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
func NewLoopCollector(reg prometheus.Registerer) (*LoopCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_interaction_ticks_total",
		Help: "Interaction ticks executed, labeled by the phase the tick started in.",
	}, []string{"phase"}), "wifisim_interaction_ticks_total")
	if err != nil {
		return nil, err
	}

	exchange, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wifisim_agent_exchange_duration_seconds",
		Help:    "Wall-clock time the simulation spent blocked on the agent per tick.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}), "wifisim_agent_exchange_duration_seconds")
	if err != nil {
		return nil, err
	}

	phase, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wifisim_phase",
		Help: "Current phase: 0 warmup, 1 measurement.",
	}), "wifisim_phase")
	if err != nil {
		return nil, err
	}
	warmup, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wifisim_warmup_seconds",
		Help: "Simulated warmup duration measured from the end of the fuzz period.",
	}), "wifisim_warmup_seconds")
	if err != nil {
		return nil, err
	}

	throughput, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wifisim_station_throughput_mbps",
		Help: "Station goodput over the last interaction interval.",
	}, []string{"station"}), "wifisim_station_throughput_mbps")
	if err != nil {
		return nil, err
	}
	stationCollisions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_station_collisions_total",
		Help: "Retransmissions attributed to a station.",
	}, []string{"station"}), "wifisim_station_collisions_total")
	if err != nil {
		return nil, err
	}
	window, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wifisim_station_cw_min",
		Help: "Minimum contention window last written for a station.",
	}, []string{"station"}), "wifisim_station_cw_min")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wifisim_agent_rpc_requests_total",
		Help: "Agent bridge RPCs handled, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "wifisim_agent_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wifisim_agent_rpc_duration_seconds",
		Help:    "Agent bridge RPC lifetime in seconds.",
		Buckets: []float64{0.01, 0.1, 1, 5, 10, 30, 60, 300, 900},
	}, []string{"service", "method"}), "wifisim_agent_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &LoopCollector{
		gatherer:          gatherer,
		Ticks:             ticks,
		ExchangeDuration:  exchange,
		Phase:             phase,
		WarmupSeconds:     warmup,
		StationThroughput: throughput,
		StationCollisions: stationCollisions,
		StationWindow:     window,
		RPCRequests:       requests,
		RPCDurations:      durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *LoopCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick counts one interaction tick.
func (c *LoopCollector) ObserveTick(phase string) {
	if c == nil || c.Ticks == nil {
		return
	}
	c.Ticks.WithLabelValues(phase).Inc()
}

// ObserveExchange records how long one agent exchange blocked.
func (c *LoopCollector) ObserveExchange(d time.Duration) {
	if c == nil || c.ExchangeDuration == nil {
		return
	}
	c.ExchangeDuration.Observe(d.Seconds())
}

// SetMeasurement flips the phase gauge and records the warmup duration.
func (c *LoopCollector) SetMeasurement(warmup time.Duration) {
	if c == nil {
		return
	}
	if c.Phase != nil {
		c.Phase.Set(1)
	}
	if c.WarmupSeconds != nil {
		c.WarmupSeconds.Set(warmup.Seconds())
	}
}

// ObserveStation records one station's interval throughput and collisions.
func (c *LoopCollector) ObserveStation(station int, throughputMbps float64, collisions uint64) {
	if c == nil {
		return
	}
	label := strconv.Itoa(station)
	if c.StationThroughput != nil {
		c.StationThroughput.WithLabelValues(label).Set(throughputMbps)
	}
	if c.StationCollisions != nil && collisions > 0 {
		c.StationCollisions.WithLabelValues(label).Add(float64(collisions))
	}
}

// SetStationWindow records the minimum window written for a station.
func (c *LoopCollector) SetStationWindow(station int, size uint32) {
	if c == nil || c.StationWindow == nil {
		return
	}
	c.StationWindow.WithLabelValues(strconv.Itoa(station)).Set(float64(size))
}

// StreamServerInterceptor records request counts and durations for
// streaming RPCs.
func (c *LoopCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		if c == nil {
			return err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}
		return err
	}
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *LoopCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *LoopCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
