package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wifi-cw-sim/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logging.NewFromEnv()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(log logging.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "wifisim",
		Short: "Wi-Fi contention window simulator",
		Long: `wifisim runs a saturated Wi-Fi cell in which a decision agent tunes the
contention window of selected stations, and reports throughput, fairness,
loss and latency for the measurement phase.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "Path to a YAML run configuration")

	root.AddCommand(newRunCmd(log), newAgentCmd(log))
	return root
}

func serveMetrics(addr string, handler http.Handler, log logging.Logger) *http.Server {
	if addr == "" || handler == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
