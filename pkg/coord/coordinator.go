// Package coord implements the transaction manager: the timestamp
// authority and OCC backward validator. It retains one connection per
// data node for write fan-out and keeps the committed history that
// validation runs against.
package coord

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/metrics"
	"github.com/quartzkv/quartzkv/pkg/sharding"
	"github.com/quartzkv/quartzkv/pkg/wire"
)

var ErrServerClosed = errors.New("coordinator server is closed")

// CommitRecord is one entry of the committed history
type CommitRecord struct {
	CommitTS  int64
	WriteKeys map[string]struct{}
}

// Coordinator represents the transaction manager
type Coordinator struct {
	listener net.Listener
	nodes    []*nodeConn

	// tsMu guards globalTS. startTS takes it alone; when both locks are
	// held, tsMu is acquired inside historyMu, never the reverse.
	tsMu     sync.Mutex
	globalTS int64

	// historyMu is the commit critical section: validation, commit-ts
	// allocation, write application and history append all happen
	// under it.
	historyMu sync.Mutex
	history   []CommitRecord

	connMu  sync.Mutex
	clients map[uint64]*clientConn
	nextID  uint64
	closed  bool

	logger zerolog.Logger
}

// New creates a coordinator for a fixed set of data nodes. The node
// order must match the order every client loads, or sharding disagrees.
func New(nodeAddrs []string) *Coordinator {
	nodes := make([]*nodeConn, len(nodeAddrs))
	for i, addr := range nodeAddrs {
		nodes[i] = &nodeConn{addr: addr}
	}
	return &Coordinator{
		nodes:   nodes,
		clients: make(map[uint64]*clientConn),
		logger:  log.WithComponent("coord"),
	}
}

// Connect eagerly dials every data node. Failures are logged, not
// fatal: a node that is down now is re-dialed lazily before its next
// PUT.
func (c *Coordinator) Connect() {
	for _, n := range c.nodes {
		if err := n.dial(); err != nil {
			c.logger.Warn().Err(err).Str("node", n.addr).Msg("node not reachable yet")
			continue
		}
		c.logger.Info().Str("node", n.addr).Msg("connected to node")
	}
}

// Listen binds the coordinator to address
func (c *Coordinator) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	c.listener = listener
	c.logger = c.logger.With().Str("addr", listener.Addr().String()).Logger()
	return nil
}

// Addr returns the bound address; valid after Listen
func (c *Coordinator) Addr() string {
	return c.listener.Addr().String()
}

// Serve accepts client connections until Close
func (c *Coordinator) Serve() error {
	c.logger.Info().Int("nodes", len(c.nodes)).Msg("coordinator listening")
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			c.connMu.Lock()
			closed := c.closed
			c.connMu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		c.connMu.Lock()
		if c.closed {
			c.connMu.Unlock()
			conn.Close()
			return nil
		}
		c.nextID++
		client := &clientConn{
			id:    c.nextID,
			conn:  wire.NewConn(conn),
			coord: c,
		}
		c.clients[client.id] = client
		c.connMu.Unlock()

		go client.handle()
	}
}

// ListenAndServe binds to address and serves until Close
func (c *Coordinator) ListenAndServe(address string) error {
	if err := c.Listen(address); err != nil {
		return err
	}
	c.Connect()
	return c.Serve()
}

// Close stops the server and drops the node connections
func (c *Coordinator) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for _, client := range c.clients {
		client.conn.Close()
	}
	if c.listener != nil {
		c.listener.Close()
	}
	for _, n := range c.nodes {
		n.close()
	}
	return nil
}

func (c *Coordinator) removeClient(id uint64) {
	c.connMu.Lock()
	delete(c.clients, id)
	c.connMu.Unlock()
}

// startTS returns the current global timestamp without incrementing
// it. Concurrent transactions may share a start timestamp; validation
// compares commit_ts > start_ts strictly, so that is safe.
func (c *Coordinator) startTS() int64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	return c.globalTS
}

// nextTS mints a commit timestamp. Callers hold historyMu, which keeps
// the minted sequence identical to the history append order.
func (c *Coordinator) nextTS() int64 {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	c.globalTS++
	return c.globalTS
}

// HistoryLen reports the number of committed records
func (c *Coordinator) HistoryLen() int {
	c.historyMu.Lock()
	defer c.historyMu.Unlock()
	return len(c.history)
}

// commit runs backward validation and, on success, applies the write
// set and appends to the history. One critical section covers all of
// it, so concurrent validators observe commits atomically.
func (c *Coordinator) commit(req *wire.CoordRequest) interface{} {
	// Read-only transactions cannot invalidate anyone; drivers check
	// this locally, but a conforming one may still ask.
	if len(req.WriteSet) == 0 {
		return wire.NewTxReply(wire.StatusCommitted, req.TxID)
	}

	readSet := make(map[string]struct{}, len(req.ReadSet))
	for _, key := range req.ReadSet {
		readSet[key] = struct{}{}
	}

	begin := time.Now()
	c.historyMu.Lock()
	defer c.historyMu.Unlock()

	for _, rec := range c.history {
		if rec.CommitTS <= req.TxID {
			continue
		}
		for key := range rec.WriteKeys {
			if _, hit := readSet[key]; hit {
				metrics.CoordAbortsTotal.Inc()
				c.logger.Debug().
					Int64("start_ts", req.TxID).
					Int64("conflict_ts", rec.CommitTS).
					Str("key", key).
					Msg("validation conflict")
				return wire.NewAbortedReply()
			}
		}
	}

	commitTS := c.nextTS()

	if err := c.applyWrites(req.WriteSet, commitTS); err != nil {
		// Known limitation: some writes may already be applied and no
		// rollback occurs. The record is not appended.
		metrics.CoordWriteErrorsTotal.Inc()
		c.logger.Error().Err(err).Int64("commit_ts", commitTS).Msg("write application failed")
		return wire.NewErrorReply("node write failure")
	}

	writeKeys := make(map[string]struct{}, len(req.WriteSet))
	for key := range req.WriteSet {
		writeKeys[key] = struct{}{}
	}
	c.history = append(c.history, CommitRecord{CommitTS: commitTS, WriteKeys: writeKeys})

	metrics.CoordCommitsTotal.Inc()
	metrics.CoordCommitSeconds.Observe(time.Since(begin).Seconds())
	return wire.NewTxReply(wire.StatusCommitted, commitTS)
}

// applyWrites sends each write to its owning node in key order
func (c *Coordinator) applyWrites(writeSet map[string]string, commitTS int64) error {
	keys := make([]string, 0, len(writeSet))
	for key := range writeSet {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	txID := strconv.FormatInt(commitTS, 10)
	for _, key := range keys {
		value := writeSet[key]
		n := c.nodes[sharding.NodeIndex(key, len(c.nodes))]
		if err := n.put(key, value, txID); err != nil {
			return fmt.Errorf("put %q to %s: %w", key, n.addr, err)
		}
	}
	return nil
}

// clientConn represents one accepted client connection
type clientConn struct {
	id    uint64
	conn  *wire.Conn
	coord *Coordinator
}

func (cc *clientConn) handle() {
	c := cc.coord
	defer func() {
		cc.conn.Close()
		c.removeClient(cc.id)
	}()

	for {
		var req wire.CoordRequest
		if err := cc.conn.Recv(&req); err != nil {
			if err != io.EOF {
				c.logger.Warn().Err(err).Uint64("conn", cc.id).Msg("connection terminated")
			}
			return
		}

		var reply interface{}
		switch req.Cmd {
		case wire.CmdStartTx:
			reply = wire.NewTxReply(wire.StatusOK, c.startTS())
		case wire.CmdCommitOCC:
			reply = c.commit(&req)
		default:
			reply = wire.NewErrorReply(fmt.Sprintf("unknown command: %q", req.Cmd))
		}

		if err := cc.conn.Send(reply); err != nil {
			c.logger.Warn().Err(err).Uint64("conn", cc.id).Msg("failed to send reply")
			return
		}
	}
}

// nodeConn is the coordinator's retained connection to one data node.
// PUTs use it only from inside the commit critical section, so they are
// serialized with each other; Connect and Close dial and drop it
// without taking historyMu.
type nodeConn struct {
	addr string
	conn *wire.Conn
}

func (n *nodeConn) dial() error {
	conn, err := wire.Dial(n.addr)
	if err != nil {
		return err
	}
	n.conn = conn
	return nil
}

func (n *nodeConn) close() {
	if n.conn != nil {
		n.conn.Close()
		n.conn = nil
	}
}

// put sends one PUT, re-dialing first if the connection is gone. There
// is no retry: a failed PUT fails the commit.
func (n *nodeConn) put(key, value, txID string) error {
	if n.conn == nil {
		if err := n.dial(); err != nil {
			return err
		}
	}

	req := &wire.NodeRequest{Cmd: wire.CmdPut, Key: key, Value: &value, TxID: txID}
	var reply wire.Reply
	if err := n.conn.Call(req, &reply); err != nil {
		// Drop the broken connection; the next PUT re-dials.
		n.close()
		return err
	}
	if reply.Status != wire.StatusOK {
		return fmt.Errorf("node replied %s: %s", reply.Status, reply.Msg)
	}
	return nil
}
