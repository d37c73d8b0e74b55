package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/wifi-cw-sim/internal/config"
)

// registerFlags binds every command line override to a field of c.
func registerFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.AgentName, "agentName", c.AgentName, "Agent: wifi (none), EGreedy or UCB")
	fs.IntVar(&c.Stations, "nWifi", c.Stations, "Number of stations")
	fs.IntVar(&c.Cheaters, "cheaterNumber", c.Cheaters, "Number of stations controlled by the agent")
	fs.Float64Var(&c.DataRateMbps, "dataRate", c.DataRateMbps, "Offered load per station (Mb/s)")
	fs.IntVar(&c.PacketSize, "packetSize", c.PacketSize, "Packet size (B)")
	fs.IntVar(&c.MaxQueueSize, "maxQueueSize", c.MaxQueueSize, "Max queue size (packets)")
	fs.Float64Var(&c.PhyRateMbps, "channelCapacity", c.PhyRateMbps, "PHY rate of one transmission (Mb/s)")
	fs.Float64Var(&c.Distance, "distance", c.Distance, "Max distance between AP and stations (m), reported only")
	fs.DurationVar(&c.FuzzTime, "fuzzTime", c.FuzzTime, "Maximum traffic start offset")
	fs.DurationVar(&c.InteractionTime, "interactionTime", c.InteractionTime, "Time between agent actions")
	fs.DurationVar(&c.SimulationTime, "simulationTime", c.SimulationTime, "Duration of the measurement phase")
	fs.IntVar(&c.CW, "cw", c.CW, "Constant CW = 2^(4+x) if x >= 0 (no-agent runs only)")
	fs.IntVar(&c.MemblockKey, "memblockKey", c.MemblockKey, "Key shared with the agent")
	fs.Uint64Var(&c.Seed, "seed", c.Seed, "Random seed")
	fs.BoolVar(&c.RealTime, "realtime", c.RealTime, "Pace simulated time against the wall clock")
	fs.StringVar(&c.CSVPath, "csvPath", c.CSVPath, "Path to the summary CSV (empty disables)")
	fs.StringVar(&c.CSVLogPath, "csvLogPath", c.CSVLogPath, "Path to the per-tick log CSV (empty disables)")
	fs.StringVar(&c.AgentAddr, "agent-addr", c.AgentAddr, "Serve the agent exchange over gRPC on this address instead of running the agent in process")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")

	fs.IntVar(&c.Agent.Arms, "arms", c.Agent.Arms, "Number of CW exponents the agent chooses from")
	fs.Float64Var(&c.Agent.Epsilon, "epsilon", c.Agent.Epsilon, "EGreedy exploration rate")
	fs.Float64Var(&c.Agent.UCBC, "ucbC", c.Agent.UCBC, "UCB exploration constant")
	fs.BoolVar(&c.Agent.UseWarmup, "useWarmup", c.Agent.UseWarmup, "Keep warming up until the agent's choices settle")
	fs.DurationVar(&c.Agent.MaxWarmup, "maxWarmup", c.Agent.MaxWarmup, "Upper bound on the agent-driven warmup")
}

// loadConfig builds the effective configuration: defaults, then the
// --config file, then WIFISIM_* variables, then flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	registerFlags(overlay, &cfg)
	var setErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		target := overlay.Lookup(f.Name)
		if target == nil || setErr != nil {
			return
		}
		if err := target.Value.Set(f.Value.String()); err != nil {
			setErr = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	if setErr != nil {
		return config.Config{}, setErr
	}
	return cfg, cfg.Validate()
}
