// Package config loads the run configuration from defaults, an optional
// YAML file and WIFISIM_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/wifi-cw-sim/internal/agent"
	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
	"github.com/signalsfoundry/wifi-cw-sim/internal/interaction"
	"github.com/signalsfoundry/wifi-cw-sim/internal/wlan"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "WIFISIM_"

var (
	// ErrTooManyCheaters is returned when cheaterNumber exceeds the number
	// of stations or the exchange record capacity.
	ErrTooManyCheaters = interaction.ErrTooManyCheaters
	// ErrInvalid wraps every other validation failure.
	ErrInvalid = errors.New("invalid configuration")
)

// AgentTuning holds the built-in agent parameters.
type AgentTuning struct {
	Arms            int           `yaml:"arms" env:"ARMS"`
	Epsilon         float64       `yaml:"epsilon" env:"EPSILON"`
	OptimisticStart float64       `yaml:"optimisticStart" env:"OPTIMISTIC_START"`
	UCBC            float64       `yaml:"ucbC" env:"UCB_C"`
	UseWarmup       bool          `yaml:"useWarmup" env:"USE_WARMUP"`
	MaxWarmup       time.Duration `yaml:"maxWarmup" env:"MAX_WARMUP"`
}

// Config is the complete run configuration.
type Config struct {
	AgentName string `yaml:"agentName" env:"AGENT_NAME"`

	Stations     int     `yaml:"nWifi" env:"N_WIFI"`
	Cheaters     int     `yaml:"cheaterNumber" env:"CHEATER_NUMBER"`
	DataRateMbps float64 `yaml:"dataRate" env:"DATA_RATE"`
	PacketSize   int     `yaml:"packetSize" env:"PACKET_SIZE"`
	MaxQueueSize int     `yaml:"maxQueueSize" env:"MAX_QUEUE_SIZE"`
	PhyRateMbps  float64 `yaml:"channelCapacity" env:"CHANNEL_CAPACITY"`
	// Distance is reported in the results but does not affect the model.
	Distance float64 `yaml:"distance" env:"DISTANCE"`

	FuzzTime        time.Duration `yaml:"fuzzTime" env:"FUZZ_TIME"`
	InteractionTime time.Duration `yaml:"interactionTime" env:"INTERACTION_TIME"`
	SimulationTime  time.Duration `yaml:"simulationTime" env:"SIMULATION_TIME"`
	// CW is the global contention window exponent; negative keeps defaults.
	CW int `yaml:"cw" env:"CW"`

	MemblockKey int    `yaml:"memblockKey" env:"MEMBLOCK_KEY"`
	Seed        uint64 `yaml:"seed" env:"SEED"`
	RealTime    bool   `yaml:"realTime" env:"REAL_TIME"`

	CSVPath    string `yaml:"csvPath" env:"CSV_PATH"`
	CSVLogPath string `yaml:"csvLogPath" env:"CSV_LOG_PATH"`

	// AgentAddr is where the gRPC agent bridge listens. Empty runs the
	// built-in agent in process.
	AgentAddr   string `yaml:"agentAddr" env:"AGENT_ADDR"`
	MetricsAddr string `yaml:"metricsAddr" env:"METRICS_ADDR"`

	Agent AgentTuning `yaml:"agent" envPrefix:"AGENT_"`
}

// Default returns the scenario defaults.
func Default() Config {
	tuning := agent.DefaultConfig()
	return Config{
		AgentName:       string(agent.KindNone),
		Stations:        wlan.DefaultStations,
		Cheaters:        1,
		DataRateMbps:    wlan.DefaultDataRateMbps,
		PacketSize:      wlan.DefaultPacketSize,
		MaxQueueSize:    wlan.DefaultMaxQueueSize,
		PhyRateMbps:     wlan.DefaultPhyRateMbps,
		Distance:        10,
		FuzzTime:        5 * time.Second,
		InteractionTime: 500 * time.Millisecond,
		SimulationTime:  5 * time.Second,
		CW:              -1,
		MemblockKey:     exchange.DefaultKey,
		Seed:            1,
		CSVPath:         "results.csv",
		CSVLogPath:      "logs.csv",
		MetricsAddr:     ":9090",
		Agent: AgentTuning{
			Arms:            tuning.Arms,
			Epsilon:         tuning.Epsilon,
			OptimisticStart: tuning.OptimisticStart,
			UCBC:            tuning.C,
			MaxWarmup:       tuning.MaxWarmup,
		},
	}
}

// LoadFile overlays the YAML document at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays WIFISIM_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	return env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix})
}

// Load builds a configuration from defaults, the optional file and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, fmt.Errorf("environment: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration as a whole.
func (c Config) Validate() error {
	if _, err := agent.ParseKind(c.AgentName); err != nil {
		return err
	}
	if c.Stations < 1 {
		return fmt.Errorf("%w: nWifi must be positive, got %d", ErrInvalid, c.Stations)
	}
	if c.Cheaters < 1 {
		return fmt.Errorf("%w: cheaterNumber must be positive, got %d", ErrInvalid, c.Cheaters)
	}
	if c.Cheaters > c.Stations || c.Cheaters > exchange.Capacity {
		return fmt.Errorf("%w: %d cheaters for %d stations", ErrTooManyCheaters, c.Cheaters, c.Stations)
	}
	var errs []error
	if c.Agent.Arms < 1 {
		errs = append(errs, fmt.Errorf("agent.arms must be positive, got %d", c.Agent.Arms))
	}
	if c.Agent.Epsilon < 0 || c.Agent.Epsilon > 1 {
		errs = append(errs, fmt.Errorf("agent.epsilon must be in [0,1], got %v", c.Agent.Epsilon))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	netCfg := c.Network()
	netCfg.ApplyDefaults()
	if err := netCfg.Validate(); err != nil {
		return err
	}
	return c.Interaction().Validate()
}

// Kind returns the parsed agent kind. It assumes Validate passed.
func (c Config) Kind() agent.Kind {
	k, _ := agent.ParseKind(c.AgentName)
	return k
}

// Network returns the contention model configuration.
func (c Config) Network() wlan.Config {
	return wlan.Config{
		Stations:     c.Stations,
		DataRateMbps: c.DataRateMbps,
		PacketSize:   c.PacketSize,
		MaxQueueSize: c.MaxQueueSize,
		PhyRateMbps:  c.PhyRateMbps,
		FuzzTime:     c.FuzzTime,
		Seed:         c.Seed,
	}
}

// Interaction returns the loop timing configuration. The global window is
// only applied when no agent drives the stations.
func (c Config) Interaction() interaction.Config {
	cw := c.CW
	if c.Kind() != agent.KindNone {
		cw = -1
	}
	return interaction.Config{
		FuzzTime:        c.FuzzTime,
		InteractionTime: c.InteractionTime,
		SimulationTime:  c.SimulationTime,
		Cheaters:        c.Cheaters,
		GlobalCW:        cw,
	}
}

// AgentConfig returns the built-in agent configuration.
func (c Config) AgentConfig() agent.Config {
	return agent.Config{
		Kind:            c.Kind(),
		Arms:            c.Agent.Arms,
		Epsilon:         c.Agent.Epsilon,
		OptimisticStart: c.Agent.OptimisticStart,
		C:               c.Agent.UCBC,
		UseWarmup:       c.Agent.UseWarmup,
		MaxWarmup:       c.Agent.MaxWarmup,
		Seed:            c.Seed,
	}
}
