package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quartzkv/quartzkv/pkg/bench"
	"github.com/quartzkv/quartzkv/pkg/config"
	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/txn"
)

var (
	flagCoordinator  string
	flagNodes        string
	flagConfig       string
	flagMode         string
	flagWorkers      int
	flagTransactions int
	flagKeyRange     int
	flagAttempts     int
	flagBackoff      time.Duration
	flagSeed         int64
	flagOut          string
	flagLogLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "quartzkv-bench",
	Short: "Drive synthetic transaction load against a QuartzKV cluster",
	Long: `Runs the reference read-read-write workload: each worker reads two
uniform-random keys and writes the first. Small key ranges force
contention; compare OCC and 2PL abort rates under the same load.`,
	RunE: runBench,
}

func init() {
	rootCmd.Flags().StringVar(&flagCoordinator, "coordinator", "127.0.0.1:7400", "coordinator host:port")
	rootCmd.Flags().StringVar(&flagNodes, "nodes", "127.0.0.1:7401", "comma-separated data node host:port list")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "cluster config file (YAML)")
	rootCmd.Flags().StringVar(&flagMode, "mode", "occ", "concurrency control mode (occ, 2pl)")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", 4, "concurrent workers")
	rootCmd.Flags().IntVar(&flagTransactions, "transactions", 100, "transactions per worker")
	rootCmd.Flags().IntVar(&flagKeyRange, "keys", 1000, "key range size (smaller = more contention)")
	rootCmd.Flags().IntVar(&flagAttempts, "attempts", 1, "attempts per transaction (1 = no retry)")
	rootCmd.Flags().DurationVar(&flagBackoff, "backoff", 50*time.Millisecond, "max random backoff between attempts")
	rootCmd.Flags().Int64Var(&flagSeed, "seed", 1, "rng seed")
	rootCmd.Flags().StringVar(&flagOut, "out", "", "write msgpack results to this file")
	rootCmd.Flags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cobra.OnInitialize(func() {
		log.Init(log.Config{Level: log.Level(flagLogLevel)})
	})
}

func runBench(cmd *cobra.Command, args []string) error {
	mode, err := txn.ParseMode(flagMode)
	if err != nil {
		return err
	}

	coordAddr := flagCoordinator
	var nodes []string
	if flagConfig != "" {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		coordAddr = cfg.Coordinator
		nodes = cfg.Nodes
	} else {
		for _, addr := range strings.Split(flagNodes, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				nodes = append(nodes, addr)
			}
		}
	}

	result, err := bench.Run(bench.Options{
		Mode:         mode,
		Workers:      flagWorkers,
		Transactions: flagTransactions,
		KeyRange:     flagKeyRange,
		MaxAttempts:  flagAttempts,
		MaxBackoff:   flagBackoff,
		Seed:         flagSeed,
		Coordinator:  coordAddr,
		Nodes:        nodes,
	})
	if err != nil {
		return err
	}

	fmt.Printf("mode        %s\n", result.Mode)
	fmt.Printf("workers     %d\n", result.Workers)
	fmt.Printf("committed   %d\n", result.Commits)
	fmt.Printf("aborted     %d\n", result.Aborts)
	fmt.Printf("retries     %d\n", result.Retries)
	fmt.Printf("elapsed     %s\n", result.Elapsed.Round(time.Millisecond))
	fmt.Printf("throughput  %.1f tx/s\n", result.Throughput)

	if flagOut != "" {
		if err := bench.SaveResult(flagOut, result); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", flagOut)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
