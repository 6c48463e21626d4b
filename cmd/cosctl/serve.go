package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/cos/internal/logx"
	"github.com/cuemby/cos/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration service (schedule engine, agent API, realtime streamer)",
	Long: `serve brings up every long-running component in one process: the
raft-backed schedule engine, the agent-facing HTTP API remote execution
agents register against, and the kvstore lease sweeper. cosctl's other
subcommands talk to a MemoryStore seeded fresh per invocation, so they are
only useful against this same process when run as a client of a future
transport layer (not implemented yet); today serve is the single-node
deployment this service targets.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("metrics", true, "Expose a Prometheus /metrics endpoint")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics HTTP endpoint")
	serveCmd.Flags().Bool("single-node", true, "Bootstrap raft as a single-voter cluster instead of joining an existing one")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return fmt.Errorf("failed to initialize service: %w", err)
	}
	defer a.Close()

	singleNode, _ := cmd.Flags().GetBool("single-node")
	a.cfg.Raft.Bootstrap = singleNode
	if err := a.startRaft(); err != nil {
		return fmt.Errorf("failed to start raft node: %w", err)
	}

	stop := make(chan struct{})
	a.kv.RunSweeper(time.Minute, stop)
	defer close(stop)

	a.heartbeat.Start()
	defer a.heartbeat.Stop()

	log := logx.WithComponent("cosctl")
	log.Info().Str("node_id", a.cfg.Raft.NodeID).Msg("schedule engine started")

	if withMetrics, _ := cmd.Flags().GetBool("metrics"); withMetrics {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.agentAPI.Start(); err != nil {
			errCh <- fmt.Errorf("agent API error: %w", err)
		}
	}()
	log.Info().Str("addr", a.cfg.Agent.ListenAddr).Msg("agent API listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("service error")
	}

	if err := a.agentAPI.Stop(); err != nil {
		return fmt.Errorf("failed to stop agent API: %w", err)
	}
	return nil
}
