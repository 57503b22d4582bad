package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/metrics"
	"github.com/quartzkv/quartzkv/pkg/node"
)

var (
	flagAddr     string
	flagMetrics  string
	flagLogLevel string
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "quartzkv-node",
	Short: "QuartzKV data node",
	Long: `Runs one QuartzKV data node: the owner of a hash shard of the
key space, serving GET/PUT/DELETE and exclusive LOCK/UNLOCK over the
framed JSON protocol.`,
	RunE: runNode,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", ":7401", "address to listen on")
	rootCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Prometheus listen address (disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "output logs as JSON")
	cobra.OnInitialize(func() {
		log.Init(log.Config{Level: log.Level(flagLogLevel), JSONOutput: flagLogJSON})
	})
}

func runNode(cmd *cobra.Command, args []string) error {
	srv := node.New()
	if err := srv.Listen(flagAddr); err != nil {
		return err
	}

	if flagMetrics != "" {
		metrics.Register()
		go func() {
			if err := metrics.Serve(flagMetrics); err != nil {
				log.Logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Logger.Info().Msg("shutting down")
		srv.Close()
	}()

	return srv.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
