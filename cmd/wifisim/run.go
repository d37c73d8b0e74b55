package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/wifi-cw-sim/internal/agent"
	"github.com/signalsfoundry/wifi-cw-sim/internal/agentrpc"
	"github.com/signalsfoundry/wifi-cw-sim/internal/collisions"
	"github.com/signalsfoundry/wifi-cw-sim/internal/config"
	"github.com/signalsfoundry/wifi-cw-sim/internal/control"
	"github.com/signalsfoundry/wifi-cw-sim/internal/exchange"
	"github.com/signalsfoundry/wifi-cw-sim/internal/flowstats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/interaction"
	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
	"github.com/signalsfoundry/wifi-cw-sim/internal/observability"
	"github.com/signalsfoundry/wifi-cw-sim/internal/report"
	"github.com/signalsfoundry/wifi-cw-sim/internal/sim/engine"
	"github.com/signalsfoundry/wifi-cw-sim/internal/stats"
	"github.com/signalsfoundry/wifi-cw-sim/internal/wlan"
	"github.com/signalsfoundry/wifi-cw-sim/timectrl"
)

// simulationEpoch is the simulated wall time of every run's origin.
var simulationEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newRunCmd(log logging.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation and write the results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, runLog := logging.WithRunLogger(cmd.Context(), log)

			tracing, err := observability.TracingConfigFromEnv()
			if err != nil {
				return err
			}
			shutdown, err := observability.InitTracing(ctx, tracing, runLog)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, runLog)

			reg := prometheus.NewRegistry()
			res, err := runSimulation(ctx, cfg, reg, runLog)
			if err != nil {
				return err
			}

			report.Print(cmd.OutOrStdout(), res.Summary)
			if cfg.CSVPath != "" {
				if err := report.WriteSummary(cfg.CSVPath, res.Run, res.Summary); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nSimulation data saved to: %s\n", cfg.CSVPath)
			}
			return nil
		},
	}
	def := config.Default()
	registerFlags(cmd.Flags(), &def)
	return cmd
}

type runResult struct {
	Run       report.Run
	Summary   stats.Summary
	Reason    engine.StopReason
	Ticks     uint64
	Exchanges uint64
	LogRows   int
}

// runSimulation wires the engine, the cell model, the interaction loop and
// the agent for one run and blocks until the measurement phase ends, the
// run aborts or ctx is cancelled.
func runSimulation(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log logging.Logger) (*runResult, error) {
	if log == nil {
		log = logging.Noop()
	}
	mode := timectrl.Accelerated
	if cfg.RealTime {
		mode = timectrl.RealTime
	}
	clock := timectrl.NewTimeController(simulationEpoch, mode)
	eng := engine.New(clock, log)

	monitor := flowstats.NewMonitor()
	queue := collisions.NewQueue()
	tracker := collisions.NewTracker(cfg.Stations, queue, log)

	cell, err := wlan.New(cfg.Network(), eng, monitor, queue, log)
	if err != nil {
		return nil, err
	}

	loopMetrics, err := observability.NewLoopCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("loop metrics: %w", err)
	}
	netMetrics, err := observability.NewNetworkCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("network metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, loopMetrics.Handler(), log)
	if metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	run := report.Run{
		Agent:        cfg.AgentName,
		DataRateMbps: cfg.DataRateMbps,
		Distance:     cfg.Distance,
		Stations:     cfg.Stations,
		Cheaters:     cfg.Cheaters,
		Seed:         cfg.Seed,
	}

	var loop *interaction.Loop
	opts := []interaction.Option{
		interaction.WithLogger(log),
		interaction.WithMetrics(loopMetrics),
		interaction.WithTickObserver(func(interaction.TickRecord) {
			opps, succ, coll := cell.Counters()
			netMetrics.Update(opps, succ, coll, eng.Executed())
		}),
	}

	var tickLog *report.TickLog
	if cfg.CSVLogPath != "" {
		tickLog, err = report.NewTickLog(cfg.CSVLogPath, run, monitor, func() time.Duration {
			if loop == nil {
				return 0
			}
			return loop.WarmupEnd()
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, interaction.WithTickObserver(tickLog.Observe))
	}

	var ch *exchange.Channel
	if cfg.Kind() != agent.KindNone {
		ch = exchange.NewChannel(cfg.MemblockKey)
		opts = append(opts, interaction.WithAgent(ch))
	}

	loop, err = interaction.New(cfg.Interaction(), eng, monitor, tracker, control.NewApplier(cell, log), opts...)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if ch != nil {
		if err := startAgent(gctx, g, cfg, ch, loopMetrics, log); err != nil {
			return nil, err
		}
	}

	cell.Start(gctx, eng.Now())
	if err := loop.Start(gctx); err != nil {
		if ch != nil {
			ch.Finish()
		}
		_ = g.Wait()
		return nil, err
	}

	g.Go(func() error {
		if ch != nil {
			defer ch.Finish()
		}
		return eng.Run(gctx)
	})
	runErr := g.Wait()

	if tickLog != nil {
		if err := tickLog.Close(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("write log: %w", err))
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	opps, succ, coll := cell.Counters()
	netMetrics.Update(opps, succ, coll, eng.Executed())

	if eng.Reason() != engine.StopTime {
		log.Warn(ctx, "run ended before the measurement phase completed",
			logging.String("reason", eng.Reason().String()),
			logging.String("phase", loop.Phase().String()),
		)
	}

	summary := stats.Summarize(monitor.Snapshot(), stats.SummaryInput{
		Stations:    cfg.Stations,
		Cheaters:    cfg.Cheaters,
		AgentDriven: loop.AgentDriven(),
		Duration:    cfg.SimulationTime,
		WarmupEnd:   loop.WarmupEnd(),
	})
	log.Info(ctx, "run finished",
		logging.Float64("throughput_mbps", summary.ThroughputMbps),
		logging.Float64("fairness", summary.Fairness),
		logging.Duration("warmup_end", summary.WarmupEnd),
		logging.Uint64("ticks", loop.Ticks()),
	)

	res := &runResult{
		Run:     run,
		Summary: summary,
		Reason:  eng.Reason(),
		Ticks:   loop.Ticks(),
	}
	if ch != nil {
		res.Exchanges = ch.Exchanges()
	}
	if tickLog != nil {
		res.LogRows = tickLog.Rows()
	}
	return res, nil
}

// startAgent serves ch to an external agent over gRPC when an address is
// configured, or runs the built-in agent against it otherwise.
func startAgent(ctx context.Context, g *errgroup.Group, cfg config.Config, ch *exchange.Channel, metrics *observability.LoopCollector, log logging.Logger) error {
	if cfg.AgentAddr == "" {
		a, err := agent.New(cfg.AgentConfig(), cfg.Cheaters, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return a.Run(ctx, ch) })
		return nil
	}

	lis, err := net.Listen("tcp", cfg.AgentAddr)
	if err != nil {
		return fmt.Errorf("listen for agent on %s: %w", cfg.AgentAddr, err)
	}
	srv := agentrpc.NewGRPCServer(agentrpc.NewServer(ch, log), metrics)
	log.Info(ctx, "waiting for agent", logging.String("addr", lis.Addr().String()), logging.Int("key", ch.Key()))

	g.Go(func() error {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("agent server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ch.Done():
			srv.GracefulStop()
		case <-ctx.Done():
			srv.Stop()
		}
		return nil
	})
	return nil
}
