package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quartzkv/quartzkv/pkg/config"
	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/sharding"
	"github.com/quartzkv/quartzkv/pkg/txn"
	"github.com/quartzkv/quartzkv/pkg/wire"
)

var (
	flagCoordinator string
	flagNodes       string
	flagConfig      string
	flagMode        string
	flagReads       []string
	flagWrites      []string
)

var rootCmd = &cobra.Command{
	Use:   "quartzkv-cli",
	Short: "Poke a QuartzKV cluster from the command line",
}

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Read a key directly from its owning node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(args[0], func(conn *wire.Conn) error {
			var reply wire.Reply
			if err := conn.Call(&wire.NodeRequest{Cmd: wire.CmdGet, Key: args[0]}, &reply); err != nil {
				return err
			}
			if reply.Status != wire.StatusOK {
				return fmt.Errorf("node replied %s: %s", reply.Status, reply.Msg)
			}
			if reply.Value == nil {
				fmt.Println("(absent)")
			} else {
				fmt.Println(*reply.Value)
			}
			return nil
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put KEY VALUE",
	Short: "Write a key directly to its owning node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(args[0], func(conn *wire.Conn) error {
			var reply wire.Reply
			req := &wire.NodeRequest{Cmd: wire.CmdPut, Key: args[0], Value: &args[1]}
			if err := conn.Call(req, &reply); err != nil {
				return err
			}
			if reply.Status != wire.StatusOK {
				return fmt.Errorf("node replied %s: %s", reply.Status, reply.Msg)
			}
			fmt.Println("OK")
			return nil
		})
	},
}

var delCmd = &cobra.Command{
	Use:   "del KEY",
	Short: "Delete a key on its owning node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNode(args[0], func(conn *wire.Conn) error {
			var reply wire.Reply
			if err := conn.Call(&wire.NodeRequest{Cmd: wire.CmdDelete, Key: args[0]}, &reply); err != nil {
				return err
			}
			if reply.Status != wire.StatusOK {
				return fmt.Errorf("node replied %s: %s", reply.Status, reply.Msg)
			}
			fmt.Println("OK")
			return nil
		})
	},
}

var txnCmd = &cobra.Command{
	Use:   "txn",
	Short: "Run one transaction: all --read keys, then all --write key=value pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		coordAddr, nodes, err := topology()
		if err != nil {
			return err
		}
		mode, err := txn.ParseMode(flagMode)
		if err != nil {
			return err
		}

		client := txn.NewClient(coordAddr, nodes)
		defer client.Close()

		if err := client.Begin(mode); err != nil {
			return err
		}

		for _, key := range flagReads {
			value, err := client.Read(key)
			if err != nil {
				client.Abort()
				return fmt.Errorf("read %q: %w", key, err)
			}
			if value == nil {
				fmt.Printf("%s = (absent)\n", key)
			} else {
				fmt.Printf("%s = %s\n", key, *value)
			}
		}

		for _, pair := range flagWrites {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				client.Abort()
				return fmt.Errorf("bad --write %q, want key=value", pair)
			}
			if err := client.Write(key, value); err != nil {
				client.Abort()
				return fmt.Errorf("write %q: %w", key, err)
			}
		}

		if err := client.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		fmt.Println("COMMITTED")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCoordinator, "coordinator", "127.0.0.1:7400", "coordinator host:port")
	rootCmd.PersistentFlags().StringVar(&flagNodes, "nodes", "127.0.0.1:7401", "comma-separated data node host:port list")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "cluster config file (YAML)")

	txnCmd.Flags().StringVar(&flagMode, "mode", "occ", "concurrency control mode (occ, 2pl)")
	txnCmd.Flags().StringArrayVar(&flagReads, "read", nil, "key to read (repeatable)")
	txnCmd.Flags().StringArrayVar(&flagWrites, "write", nil, "key=value to write (repeatable)")

	rootCmd.AddCommand(getCmd, putCmd, delCmd, txnCmd)

	log.Init(log.Config{Level: log.WarnLevel})
}

func topology() (string, []string, error) {
	if flagConfig != "" {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return "", nil, err
		}
		return cfg.Coordinator, cfg.Nodes, nil
	}

	var nodes []string
	for _, addr := range strings.Split(flagNodes, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			nodes = append(nodes, addr)
		}
	}
	if len(nodes) == 0 {
		return "", nil, config.ErrNoNodes
	}
	return flagCoordinator, nodes, nil
}

// withNode dials the node owning key and runs fn against it
func withNode(key string, fn func(*wire.Conn) error) error {
	_, nodes, err := topology()
	if err != nil {
		return err
	}

	conn, err := wire.Dial(nodes[sharding.NodeIndex(key, len(nodes))])
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
