package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quartzkv/quartzkv/pkg/config"
	"github.com/quartzkv/quartzkv/pkg/coord"
	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/metrics"
)

var (
	flagAddr     string
	flagNodes    string
	flagConfig   string
	flagMetrics  string
	flagLogLevel string
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "quartzkv-coord",
	Short: "QuartzKV transaction coordinator",
	Long: `Runs the QuartzKV coordinator: the timestamp authority and OCC
backward validator. The data node set is fixed at startup, either from
--nodes or from a cluster config file.`,
	RunE: runCoord,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", ":7400", "address to listen on")
	rootCmd.Flags().StringVar(&flagNodes, "nodes", "", "comma-separated data node host:port list")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "cluster config file (YAML)")
	rootCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Prometheus listen address (disabled if empty)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogJSON, "log-json", false, "output logs as JSON")
	cobra.OnInitialize(func() {
		log.Init(log.Config{Level: log.Level(flagLogLevel), JSONOutput: flagLogJSON})
	})
}

func nodeList() ([]string, error) {
	if flagConfig != "" {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		return cfg.Nodes, nil
	}
	if flagNodes == "" {
		return nil, fmt.Errorf("either --nodes or --config is required")
	}

	var nodes []string
	for _, addr := range strings.Split(flagNodes, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			nodes = append(nodes, addr)
		}
	}
	if len(nodes) == 0 {
		return nil, config.ErrNoNodes
	}
	return nodes, nil
}

func runCoord(cmd *cobra.Command, args []string) error {
	nodes, err := nodeList()
	if err != nil {
		return err
	}

	c := coord.New(nodes)
	if err := c.Listen(flagAddr); err != nil {
		return err
	}
	c.Connect()

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
		c.Close()
	}()

	return c.Serve()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
