package main

import (
	"context"
	"fmt"

	"github.com/cuemby/runpod-go/pkg/health"
	"github.com/cuemby/runpod-go/pkg/log"
	"github.com/cuemby/runpod-go/pkg/runpodtypes"
	"github.com/cuemby/runpod-go/pkg/worker"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker, fetching and processing jobs until shutdown",
	Long: `serve resolves worker configuration from the environment and runs
the job processing loop until it receives SIGINT/SIGTERM.

This reference build wires in an echo handler (it returns the job's input
unchanged) so the binary is runnable standalone; embedding runpod-go as a
library means supplying your own runpodtypes.Handler to worker.New instead.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("fitness-check-url", "", "optional HTTP URL probed once before accepting jobs")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := worker.LoadConfig(Version)
	if err != nil {
		return fmt.Errorf("load worker config: %w", err)
	}

	handler := runpodtypes.Sync(echoHandler)

	var opts []worker.Option
	if url, _ := cmd.Flags().GetString("fitness-check-url"); url != "" {
		opts = append(opts, worker.WithFitnessCheck(health.NewHTTPChecker(url)))
	}

	w := worker.New(cfg, handler, opts...)

	log.WithComponent("workerd").Info().Msg("starting worker")
	return w.Run(cmd.Context())
}

func echoHandler(ctx context.Context, job *runpodtypes.Job) (*runpodtypes.Output, error) {
	return &runpodtypes.Output{Value: job.Input}, nil
}
