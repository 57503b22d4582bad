// Package node implements a data node: the owner of one hash shard of
// the key space. It serves GET/PUT/DELETE against its table and
// exclusive LOCK/UNLOCK against its lock table, all under one mutex so
// store and locks always change together.
package node

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quartzkv/quartzkv/pkg/log"
	"github.com/quartzkv/quartzkv/pkg/metrics"
	"github.com/quartzkv/quartzkv/pkg/storage"
	"github.com/quartzkv/quartzkv/pkg/wire"
)

var ErrServerClosed = errors.New("node server is closed")

// Server represents a data node server
type Server struct {
	listener net.Listener

	// mu guards table and locks together: every request holds it for
	// the duration of its processing.
	mu    sync.Mutex
	table *storage.Table
	locks *storage.LockTable

	connMu  sync.Mutex
	clients map[uint64]*clientConn
	nextID  uint64
	closed  bool

	logger zerolog.Logger
}

// New creates a data node server with an empty store
func New() *Server {
	return &Server{
		table:   storage.NewTable(),
		locks:   storage.NewLockTable(),
		clients: make(map[uint64]*clientConn),
		logger:  log.WithComponent("node"),
	}
}

// Listen binds the server to address
func (s *Server) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.logger = s.logger.With().Str("addr", listener.Addr().String()).Logger()
	return nil
}

// Addr returns the bound address; valid after Listen
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until Close. Each connection gets its own
// handler goroutine; replies preserve request order per connection.
func (s *Server) Serve() error {
	s.logger.Info().Msg("data node listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.connMu.Lock()
			closed := s.closed
			s.connMu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		s.connMu.Lock()
		if s.closed {
			s.connMu.Unlock()
			conn.Close()
			return nil
		}
		s.nextID++
		client := &clientConn{
			id:     s.nextID,
			conn:   wire.NewConn(conn),
			server: s,
		}
		s.clients[client.id] = client
		s.connMu.Unlock()

		metrics.NodeConnectionsActive.Inc()
		go client.handle()
	}
}

// ListenAndServe binds to address and serves until Close
func (s *Server) ListenAndServe(address string) error {
	if err := s.Listen(address); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting and closes every client connection
func (s *Server) Close() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, client := range s.clients {
		client.conn.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	return nil
}

func (s *Server) removeClient(id uint64) {
	s.connMu.Lock()
	delete(s.clients, id)
	s.connMu.Unlock()
	metrics.NodeConnectionsActive.Dec()
}

// LockedKeys reports how many keys are currently locked
func (s *Server) LockedKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Len()
}

// clientConn represents one accepted connection
type clientConn struct {
	id     uint64
	conn   *wire.Conn
	server *Server
}

func (c *clientConn) handle() {
	s := c.server
	defer func() {
		c.conn.Close()
		s.removeClient(c.id)
		// Locks held by a disconnected client are not reaped; the
		// count makes leaked locks diagnosable.
		s.logger.Debug().
			Uint64("conn", c.id).
			Int("locked_keys", s.LockedKeys()).
			Msg("connection closed")
	}()

	for {
		var req wire.NodeRequest
		if err := c.conn.Recv(&req); err != nil {
			if err != io.EOF {
				s.logger.Warn().Err(err).Uint64("conn", c.id).Msg("connection terminated")
			}
			return
		}

		reply := s.process(&req)
		if err := c.conn.Send(reply); err != nil {
			s.logger.Warn().Err(err).Uint64("conn", c.id).Msg("failed to send reply")
			return
		}
	}
}

// process executes one request under the node-wide mutex
func (s *Server) process(req *wire.NodeRequest) interface{} {
	reply := s.dispatch(req)

	status := wire.StatusOK
	switch r := reply.(type) {
	case *wire.LockedReply:
		status = r.Status
	case *wire.ErrorReply:
		status = r.Status
	}
	metrics.NodeRequestsTotal.WithLabelValues(req.Cmd, status).Inc()

	return reply
}

func (s *Server) dispatch(req *wire.NodeRequest) interface{} {
	if req.Cmd != wire.CmdGet && req.Cmd != wire.CmdPut && req.Cmd != wire.CmdDelete &&
		req.Cmd != wire.CmdLock && req.Cmd != wire.CmdUnlock {
		return wire.NewErrorReply(fmt.Sprintf("unknown command: %q", req.Cmd))
	}
	if req.Key == "" {
		return wire.NewErrorReply("missing key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Cmd {
	case wire.CmdGet:
		if value, ok := s.table.Get(req.Key); ok {
			return wire.NewValueReply(&value)
		}
		return wire.NewValueReply(nil)

	case wire.CmdPut:
		// Unconditional overwrite. Lock ownership is deliberately not
		// checked here: enforcement is the caller's responsibility.
		if req.Value == nil {
			return wire.NewErrorReply("missing value")
		}
		s.table.Put(req.Key, *req.Value)
		return wire.NewOKReply()

	case wire.CmdDelete:
		s.table.Delete(req.Key)
		return wire.NewOKReply()

	case wire.CmdLock:
		if req.TxID == "" {
			return wire.NewErrorReply("missing tx_id")
		}
		if ok, owner := s.locks.Acquire(req.Key, req.TxID); !ok {
			metrics.NodeLockConflictsTotal.Inc()
			s.logger.Debug().
				Str("key", req.Key).
				Str("tx", req.TxID).
				Str("owner", owner).
				Msg("lock conflict")
			return wire.NewLockedReply(owner)
		}
		return wire.NewOKReply()

	case wire.CmdUnlock:
		if req.TxID == "" {
			return wire.NewErrorReply("missing tx_id")
		}
		s.locks.Release(req.Key, req.TxID)
		return wire.NewOKReply()
	}

	return wire.NewErrorReply("unreachable")
}
