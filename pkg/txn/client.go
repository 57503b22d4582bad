// Package txn implements the client-side transaction driver. A Client
// runs one transaction at a time and hides the difference between the
// two concurrency-control modes behind one API: OCC buffers writes and
// validates at commit, 2PL takes exclusive no-wait locks as it goes.
package txn

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/sharding"
	"github.com/quartzkv/quartzkv/pkg/wire"
)

var (
	ErrConflict        = errors.New("transaction conflict")
	ErrLockUnavailable = errors.New("lock unavailable")
	ErrNoTransaction   = errors.New("no active transaction")
)

// Mode selects the concurrency-control regime
type Mode uint8

const (
	OCC Mode = iota
	TwoPL
)

func (m Mode) String() string {
	if m == TwoPL {
		return "2PL"
	}
	return "OCC"
}

// ParseMode maps the usual command-line spellings to a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "occ", "OCC":
		return OCC, nil
	case "2pl", "2PL":
		return TwoPL, nil
	}
	return OCC, fmt.Errorf("unknown mode %q", s)
}

// State represents the transaction lifecycle
type State uint8

const (
	StateIdle State = iota
	StateActive
	StateCommitted
	StateAborted
)

// Client drives transactions against a cluster. Not safe for
// concurrent use; the API is sequential by design.
type Client struct {
	coordAddr string
	nodeAddrs []string
	conns     map[int]*wire.Conn

	mode  Mode
	state State

	startTS      int64  // OCC transaction id
	token        string // 2PL transaction id
	lastCommitTS int64

	readSet   map[string]struct{}
	writeSet  map[string]string
	cache     map[string]*string
	heldLocks map[string]struct{}

	logger zerolog.Logger
}

// NewClient creates a driver for the given topology. Node order must
// match the coordinator's, or reads and writes land on different
// shards.
func NewClient(coordAddr string, nodeAddrs []string) *Client {
	return &Client{
		coordAddr: coordAddr,
		nodeAddrs: nodeAddrs,
		conns:     make(map[int]*wire.Conn),
		logger:    log.WithComponent("client"),
	}
}

// Begin starts a new transaction, discarding any previous state. In
// OCC mode it fetches a start timestamp from the coordinator; in 2PL
// mode it mints a random transaction token locally.
func (c *Client) Begin(mode Mode) error {
	c.mode = mode
	c.readSet = make(map[string]struct{})
	c.writeSet = make(map[string]string)
	c.cache = make(map[string]*string)
	c.heldLocks = make(map[string]struct{})
	c.startTS = 0
	c.token = ""
	c.state = StateIdle

	switch mode {
	case OCC:
		conn, err := wire.Dial(c.coordAddr)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer conn.Close()

		var reply wire.Reply
		if err := conn.Call(&wire.CoordRequest{Cmd: wire.CmdStartTx}, &reply); err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if reply.Status != wire.StatusOK {
			return fmt.Errorf("begin: coordinator replied %s: %s", reply.Status, reply.Msg)
		}
		c.startTS = reply.TxID

	case TwoPL:
		c.token = uuid.NewString()
	}

	c.state = StateActive
	return nil
}

// Read returns the value of key, or nil if the key is absent. Writes
// buffered in this transaction are visible (read-your-writes) and
// repeated reads are served from the local cache without a network
// call. In 2PL mode the key's exclusive lock is acquired first; a held
// lock surfaces as ErrLockUnavailable, which callers treat as an abort
// signal.
func (c *Client) Read(key string) (*string, error) {
	if c.state != StateActive {
		return nil, ErrNoTransaction
	}

	if value, ok := c.writeSet[key]; ok {
		return &value, nil
	}
	if value, ok := c.cache[key]; ok {
		return value, nil
	}

	if c.mode == TwoPL {
		if err := c.lock(key); err != nil {
			return nil, err
		}
	}

	conn, err := c.nodeFor(key)
	if err != nil {
		return nil, err
	}

	var reply wire.Reply
	if err := conn.Call(&wire.NodeRequest{Cmd: wire.CmdGet, Key: key}, &reply); err != nil {
		c.dropNodeConn(key)
		return nil, err
	}
	if reply.Status != wire.StatusOK {
		return nil, fmt.Errorf("read %q: node replied %s: %s", key, reply.Status, reply.Msg)
	}

	c.readSet[key] = struct{}{}
	c.cache[key] = reply.Value
	return reply.Value, nil
}

// Write buffers a value for key. In 2PL mode the exclusive lock is
// acquired first (no-wait). The key also joins the read set, so blind
// writes validate as read-modify-writes.
func (c *Client) Write(key, value string) error {
	if c.state != StateActive {
		return ErrNoTransaction
	}

	if c.mode == TwoPL {
		if err := c.lock(key); err != nil {
			return err
		}
	}

	c.writeSet[key] = value
	c.readSet[key] = struct{}{}
	return nil
}

// Commit finalizes the transaction. A transaction with no buffered
// writes commits immediately without contacting the coordinator. In
// 2PL mode every buffered write is applied to its owning node and all
// held locks are released, even on failure. In OCC mode the read and
// write sets go to the coordinator for validation; a validation
// failure surfaces as ErrConflict.
func (c *Client) Commit() error {
	if c.state != StateActive {
		return ErrNoTransaction
	}

	if len(c.writeSet) == 0 {
		if c.mode == TwoPL {
			c.unlockAll()
		}
		c.state = StateCommitted
		return nil
	}

	if c.mode == TwoPL {
		return c.commit2PL()
	}
	return c.commitOCC()
}

func (c *Client) commit2PL() error {
	defer c.unlockAll()

	keys := make([]string, 0, len(c.writeSet))
	for key := range c.writeSet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := c.writeSet[key]
		conn, err := c.nodeFor(key)
		if err != nil {
			c.state = StateAborted
			return err
		}

		var reply wire.Reply
		req := &wire.NodeRequest{Cmd: wire.CmdPut, Key: key, Value: &value, TxID: c.token}
		if err := conn.Call(req, &reply); err != nil {
			c.dropNodeConn(key)
			c.state = StateAborted
			return err
		}
		if reply.Status != wire.StatusOK {
			c.state = StateAborted
			return fmt.Errorf("commit: node replied %s: %s", reply.Status, reply.Msg)
		}
	}

	c.state = StateCommitted
	return nil
}

func (c *Client) commitOCC() error {
	conn, err := wire.Dial(c.coordAddr)
	if err != nil {
		c.state = StateAborted
		return err
	}
	defer conn.Close()

	readSet := make([]string, 0, len(c.readSet))
	for key := range c.readSet {
		readSet = append(readSet, key)
	}
	sort.Strings(readSet)

	req := &wire.CoordRequest{
		Cmd:      wire.CmdCommitOCC,
		TxID:     c.startTS,
		ReadSet:  readSet,
		WriteSet: c.writeSet,
	}

	var reply wire.Reply
	if err := conn.Call(req, &reply); err != nil {
		c.state = StateAborted
		return err
	}

	switch reply.Status {
	case wire.StatusCommitted:
		c.lastCommitTS = reply.TxID
		c.state = StateCommitted
		return nil
	case wire.StatusAborted:
		c.state = StateAborted
		return ErrConflict
	default:
		c.state = StateAborted
		return fmt.Errorf("commit: coordinator replied %s: %s", reply.Status, reply.Msg)
	}
}

// Abort discards buffered state. In 2PL mode every held lock is
// released; the release is blind on purpose, locks may be partially
// acquired when a transaction gives up.
func (c *Client) Abort() {
	if c.mode == TwoPL {
		c.unlockAll()
	}
	c.readSet = make(map[string]struct{})
	c.writeSet = make(map[string]string)
	c.cache = make(map[string]*string)
	c.state = StateAborted
}

// Close closes the cached per-node connections
func (c *Client) Close() {
	for _, conn := range c.conns {
		conn.Close()
	}
	c.conns = make(map[int]*wire.Conn)
}

// TxState reports the current lifecycle state
func (c *Client) TxState() State {
	return c.state
}

// StartTS reports the OCC start timestamp of the current transaction
func (c *Client) StartTS() int64 {
	return c.startTS
}

// LastCommitTS reports the commit timestamp of the most recent
// successful OCC commit
func (c *Client) LastCommitTS() int64 {
	return c.lastCommitTS
}

// lock acquires the exclusive lock on key, no-wait. Locks already held
// by this transaction are skipped.
func (c *Client) lock(key string) error {
	if _, held := c.heldLocks[key]; held {
		return nil
	}

	conn, err := c.nodeFor(key)
	if err != nil {
		return err
	}

	var reply wire.Reply
	req := &wire.NodeRequest{Cmd: wire.CmdLock, Key: key, TxID: c.token}
	if err := conn.Call(req, &reply); err != nil {
		c.dropNodeConn(key)
		return err
	}

	switch reply.Status {
	case wire.StatusOK:
		c.heldLocks[key] = struct{}{}
		return nil
	case wire.StatusLocked:
		c.logger.Debug().Str("key", key).Str("owner", reply.Owner).Msg("lock unavailable")
		return ErrLockUnavailable
	default:
		return fmt.Errorf("lock %q: node replied %s: %s", key, reply.Status, reply.Msg)
	}
}

// unlockAll releases every held lock, ignoring individual failures so
// one broken node cannot strand locks on the others
func (c *Client) unlockAll() {
	for key := range c.heldLocks {
		conn, err := c.nodeFor(key)
		if err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("unlock skipped, node unreachable")
			continue
		}
		var reply wire.Reply
		req := &wire.NodeRequest{Cmd: wire.CmdUnlock, Key: key, TxID: c.token}
		if err := conn.Call(req, &reply); err != nil {
			c.dropNodeConn(key)
			c.logger.Warn().Err(err).Str("key", key).Msg("unlock failed")
		}
	}
	c.heldLocks = make(map[string]struct{})
}

// nodeFor returns the cached connection to the node owning key,
// dialing it lazily
func (c *Client) nodeFor(key string) (*wire.Conn, error) {
	idx := sharding.NodeIndex(key, len(c.nodeAddrs))
	if conn, ok := c.conns[idx]; ok {
		return conn, nil
	}

	conn, err := wire.Dial(c.nodeAddrs[idx])
	if err != nil {
		return nil, err
	}
	c.conns[idx] = conn
	return conn, nil
}

// dropNodeConn discards a broken cached connection so the next use
// re-dials
func (c *Client) dropNodeConn(key string) {
	idx := sharding.NodeIndex(key, len(c.nodeAddrs))
	if conn, ok := c.conns[idx]; ok {
		conn.Close()
		delete(c.conns, idx)
	}
}
