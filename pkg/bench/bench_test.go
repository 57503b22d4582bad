package bench

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzkv/quartzkv/pkg/coord"
	"github.com/quartzkv/quartzkv/pkg/node"
	"github.com/quartzkv/quartzkv/pkg/txn"
)

func startCluster(t *testing.T, n int) (coordAddr string, nodeAddrs []string) {
	t.Helper()

	nodeAddrs = make([]string, n)
	for i := 0; i < n; i++ {
		ns := node.New()
		require.NoError(t, ns.Listen("127.0.0.1:0"))
		go ns.Serve()
		t.Cleanup(func() { ns.Close() })
		nodeAddrs[i] = ns.Addr()
	}

	c := coord.New(nodeAddrs)
	require.NoError(t, c.Listen("127.0.0.1:0"))
	c.Connect()
	go c.Serve()
	t.Cleanup(func() { c.Close() })

	return c.Addr(), nodeAddrs
}

func TestRunOCC(t *testing.T) {
	coordAddr, nodeAddrs := startCluster(t, 2)

	opts := DefaultOptions()
	opts.Workers = 4
	opts.Transactions = 25
	opts.KeyRange = 500
	opts.Coordinator = coordAddr
	opts.Nodes = nodeAddrs

	result, err := Run(opts)
	require.NoError(t, err)

	assert.Equal(t, opts.Workers*opts.Transactions, result.Commits+result.Aborts)
	assert.Equal(t, "OCC", result.Mode)
	assert.Greater(t, result.Commits, 0)
	assert.Greater(t, result.Throughput, 0.0)
	assert.Len(t, result.PerWorker, opts.Workers)
}

func TestRunTwoPLHighContention(t *testing.T) {
	coordAddr, nodeAddrs := startCluster(t, 2)

	opts := DefaultOptions()
	opts.Mode = txn.TwoPL
	opts.Workers = 4
	opts.Transactions = 25
	opts.KeyRange = 4 // hot keys: lock conflicts are expected
	opts.MaxAttempts = 5
	opts.MaxBackoff = 5 * time.Millisecond
	opts.Coordinator = coordAddr
	opts.Nodes = nodeAddrs

	result, err := Run(opts)
	require.NoError(t, err)

	// Every transaction is accounted for exactly once
	assert.Equal(t, opts.Workers*opts.Transactions, result.Commits+result.Aborts)
	assert.Greater(t, result.Commits, 0)
}

func TestRunRejectsBadOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Workers = 0
	_, err := Run(opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Nodes = nil
	opts.Coordinator = "127.0.0.1:1"
	_, err = Run(opts)
	assert.Error(t, err)
}

func TestResultRoundTrip(t *testing.T) {
	result := &Result{
		Mode:         "2PL",
		Workers:      8,
		Transactions: 100,
		KeyRange:     10,
		Commits:      640,
		Aborts:       160,
		Retries:      312,
		Elapsed:      3 * time.Second,
		Throughput:   213.3,
		PerWorker: []WorkerStats{
			{Worker: 0, Commits: 80, Aborts: 20, Retries: 40, Duration: 3 * time.Second},
		},
	}

	path := filepath.Join(t.TempDir(), "run.msgpack")
	require.NoError(t, SaveResult(path, result))

	loaded, err := LoadResult(path)
	require.NoError(t, err)
	assert.Equal(t, result, loaded)
}
