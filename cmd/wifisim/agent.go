package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wifi-cw-sim/internal/agent"
	"github.com/signalsfoundry/wifi-cw-sim/internal/agentrpc"
	"github.com/signalsfoundry/wifi-cw-sim/internal/config"
	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
)

func newAgentCmd(log logging.Logger) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Connect a built-in agent to a running simulation",
		Long: `agent dials the exchange service of a "wifisim run --agent-addr" process
and answers every environment with a bandit decision until the run ends.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Kind() == agent.KindNone {
				return fmt.Errorf("agent command needs --agentName EGreedy or UCB")
			}
			ctx, runLog := logging.WithRunLogger(cmd.Context(), log)

			a, err := agent.New(cfg.AgentConfig(), cfg.Cheaters, runLog)
			if err != nil {
				return err
			}
			client, err := agentrpc.Dial(target, cfg.MemblockKey, agentrpc.WithRunID(logging.RunIDFromContext(ctx)))
			if err != nil {
				return fmt.Errorf("dial %s: %w", target, err)
			}
			defer client.Close()

			runLog.Info(ctx, "agent connecting", logging.String("target", target), logging.String("kind", string(cfg.Kind())))
			if err := a.Run(ctx, client); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent answered %d environments\n", a.Decisions())
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "localhost:50051", "Address of the simulation's agent exchange")
	def := config.Default()
	registerFlags(cmd.Flags(), &def)
	return cmd
}
