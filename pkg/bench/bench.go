// Package bench drives synthetic transaction load against a cluster:
// N workers, each running read-read-write transactions over a bounded
// key range. The key range controls contention; small ranges force
// conflicts, which OCC pays at validation and 2PL pays at lock time.
package bench

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/metrics"
	"github.com/quartzkv/quartzkv/pkg/txn"
)

// Options configures a benchmark run
type Options struct {
	Mode         txn.Mode
	Workers      int
	Transactions int // per worker
	KeyRange     int
	MaxAttempts  int // attempts per transaction, 1 = no retry
	MaxBackoff   time.Duration
	Seed         int64
	Coordinator  string
	Nodes        []string
}

// DefaultOptions returns a small smoke-load configuration
func DefaultOptions() Options {
	return Options{
		Mode:         txn.OCC,
		Workers:      4,
		Transactions: 100,
		KeyRange:     1000,
		MaxAttempts:  1,
		MaxBackoff:   50 * time.Millisecond,
		Seed:         1,
	}
}

// WorkerStats holds one worker's counters
type WorkerStats struct {
	Worker   int           `msgpack:"worker"`
	Commits  int           `msgpack:"commits"`
	Aborts   int           `msgpack:"aborts"`
	Retries  int           `msgpack:"retries"`
	Duration time.Duration `msgpack:"duration_ns"`
}

// Result aggregates a full run
type Result struct {
	Mode         string        `msgpack:"mode"`
	Workers      int           `msgpack:"workers"`
	Transactions int           `msgpack:"transactions"`
	KeyRange     int           `msgpack:"key_range"`
	Commits      int           `msgpack:"commits"`
	Aborts       int           `msgpack:"aborts"`
	Retries      int           `msgpack:"retries"`
	Elapsed      time.Duration `msgpack:"elapsed_ns"`
	Throughput   float64       `msgpack:"throughput_tps"`
	PerWorker    []WorkerStats `msgpack:"per_worker"`
}

// Run executes the benchmark and blocks until every worker finishes
func Run(opts Options) (*Result, error) {
	if opts.Workers <= 0 || opts.Transactions <= 0 || opts.KeyRange <= 0 {
		return nil, errors.New("bench: workers, transactions and key range must be positive")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if len(opts.Nodes) == 0 {
		return nil, errors.New("bench: at least one node address required")
	}

	logger := log.WithComponent("bench")
	logger.Info().
		Str("mode", opts.Mode.String()).
		Int("workers", opts.Workers).
		Int("transactions", opts.Transactions).
		Int("key_range", opts.KeyRange).
		Msg("starting benchmark")

	stats := make([]WorkerStats, opts.Workers)
	var wg sync.WaitGroup
	begin := time.Now()

	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			stats[id] = runWorker(id, opts, logger)
		}(w)
	}
	wg.Wait()

	result := &Result{
		Mode:         opts.Mode.String(),
		Workers:      opts.Workers,
		Transactions: opts.Transactions,
		KeyRange:     opts.KeyRange,
		Elapsed:      time.Since(begin),
		PerWorker:    stats,
	}
	for _, ws := range stats {
		result.Commits += ws.Commits
		result.Aborts += ws.Aborts
		result.Retries += ws.Retries
	}
	if secs := result.Elapsed.Seconds(); secs > 0 {
		result.Throughput = float64(result.Commits) / secs
	}

	logger.Info().
		Int("commits", result.Commits).
		Int("aborts", result.Aborts).
		Float64("tps", result.Throughput).
		Msg("benchmark finished")
	return result, nil
}

// runWorker executes one worker's transaction stream with its own
// client and its own deterministic rng
func runWorker(id int, opts Options, logger zerolog.Logger) WorkerStats {
	rng := rand.New(rand.NewSource(opts.Seed + int64(id)))
	client := txn.NewClient(opts.Coordinator, opts.Nodes)
	defer client.Close()

	ws := WorkerStats{Worker: id}
	begin := time.Now()

	for i := 0; i < opts.Transactions; i++ {
		committed := false
		for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
			if attempt > 0 {
				ws.Retries++
				// Random backoff keeps retrying workers from stampeding
				// the same hot keys in lockstep.
				time.Sleep(time.Duration(rng.Int63n(int64(opts.MaxBackoff) + 1)))
			}
			if runTransaction(client, opts.Mode, id, i, rng, opts.KeyRange) {
				committed = true
				break
			}
		}
		if committed {
			ws.Commits++
			metrics.BenchTxTotal.WithLabelValues(opts.Mode.String(), "commit").Inc()
		} else {
			ws.Aborts++
			metrics.BenchTxTotal.WithLabelValues(opts.Mode.String(), "abort").Inc()
		}
	}

	ws.Duration = time.Since(begin)
	logger.Debug().
		Int("worker", id).
		Int("commits", ws.Commits).
		Int("aborts", ws.Aborts).
		Msg("worker finished")
	return ws
}

// runTransaction performs one read-read-write transaction: read two
// random keys, write the first with a value derived from both reads
func runTransaction(client *txn.Client, mode txn.Mode, worker, seq int, rng *rand.Rand, keyRange int) bool {
	if err := client.Begin(mode); err != nil {
		return false
	}

	key1 := fmt.Sprintf("%d", rng.Intn(keyRange))
	key2 := fmt.Sprintf("%d", rng.Intn(keyRange))

	val1, err := client.Read(key1)
	if err != nil {
		client.Abort()
		return false
	}
	val2, err := client.Read(key2)
	if err != nil {
		client.Abort()
		return false
	}

	newVal := fmt.Sprintf("%d-%d-%s-%s", worker, seq, orZero(val1), orZero(val2))
	if err := client.Write(key1, newVal); err != nil {
		client.Abort()
		return false
	}

	if err := client.Commit(); err != nil {
		client.Abort()
		return false
	}
	return true
}

func orZero(v *string) string {
	if v == nil {
		return "0"
	}
	return *v
}
