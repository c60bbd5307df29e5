// Package server ties the keyspace to the network: an accept loop, a framer
// per connection, and a single store loop goroutine that owns the keyspace,
// executes commands and drives TTL expiration.
package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/lhartmann/kedis/lib/pool"
	"github.com/lhartmann/kedis/lib/queue"
	"github.com/lhartmann/kedis/lib/store"
	"github.com/lhartmann/kedis/rpc/common"
	"github.com/lhartmann/kedis/rpc/proto"
)

var Logger = common.GetLogger("server")

// maxTickInterval bounds the store loop's sleep so stats stay fresh even
// with no scheduled expiration.
const maxTickInterval = 10 * time.Second

// request is one parsed command on its way to the store loop.
type request struct {
	conn *connection
	argv [][]byte
}

// Server is the kedis server. Create with New, run with ListenAndServe.
type Server struct {
	config common.ServerConfig
	store  *store.Store
	free   *pool.Pool
	inbox  *queue.MPSC[request]
	stats  *serverStats

	listener   net.Listener
	ready      chan struct{}
	conns      *xsync.MapOf[uint64, *connection]
	nextConnID atomic.Uint64
	closing    atomic.Bool
	loopDone   chan struct{}

	idleTimeout time.Duration
}

// New creates a server from the given configuration.
func New(config common.ServerConfig) *Server {
	free := pool.New(config.FreeWorkers)
	s := &Server{
		config:      config,
		free:        free,
		store:       store.New(store.Options{FreePool: free}),
		inbox:       queue.NewMPSC[request](),
		stats:       newServerStats(),
		conns:       xsync.NewMapOf[uint64, *connection](),
		ready:       make(chan struct{}),
		loopDone:    make(chan struct{}),
		idleTimeout: time.Duration(config.IdleTimeoutSec) * time.Second,
	}
	return s
}

// ListenAndServe listens on the configured endpoint and serves until the
// context is canceled. It returns nil on a clean, signal-driven shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen(s.config.Network, s.config.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	close(s.ready)

	Logger.Infof("listening on %s://%s", s.config.Network, s.config.Listen)
	Logger.Infof(s.config.String())

	go s.storeLoop()
	stopStats := s.stats.start(s.config)

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	s.acceptLoop(ln)

	// Reap: terminate connections, let the store loop drain, stop workers.
	s.conns.Range(func(_ uint64, c *connection) bool {
		c.terminate()
		return true
	})
	s.inbox.Close()
	<-s.loopDone
	s.free.Close()
	stopStats()

	Logger.Infof("server stopped")
	return nil
}

// Addr returns the bound listener address. It blocks until the server is
// actually listening, which makes ":0" style addresses usable.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

// acceptLoop accepts until the listener closes. Transient accept errors
// never kill the listener.
func (s *Server) acceptLoop(ln net.Listener) {
	for {
		sock, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}

		c := newConnection(s.nextConnID.Add(1), sock, s)
		s.conns.Store(c.id, c)
		s.stats.connOpened()
		Logger.Debugf("conn %d: accepted %s", c.id, sock.RemoteAddr())
		c.start()
	}
}

func (s *Server) shutdown() {
	if s.closing.CompareAndSwap(false, true) {
		_ = s.listener.Close()
	}
}

// dropConn unregisters a connection after its teardown began.
func (s *Server) dropConn(c *connection) {
	s.conns.Delete(c.id)
	s.stats.connClosed()
}

// submit hands a parsed request to the store loop. It returns false once
// the server is shutting down.
func (s *Server) submit(c *connection, argv [][]byte) bool {
	return s.inbox.Push(&request{conn: c, argv: argv})
}

// --------------------------------------------------------------------------
// Store loop
// --------------------------------------------------------------------------

// storeLoop is the single goroutine that owns the keyspace. It alternates
// between executing queued requests and waking for the TTL heap's next
// deadline; nothing else touches the store.
func (s *Server) storeLoop() {
	defer close(s.loopDone)
	timer := time.NewTimer(maxTickInterval)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextTimeout())

		select {
		case req, ok := <-s.inbox.Recv():
			if !ok {
				return
			}
			s.serve(req)
		case <-timer.C:
		}

		if n := s.store.ExpireDue(); n > 0 {
			s.stats.expired(n)
			Logger.Debugf("expired %d keys", n)
		}
		s.stats.observeStore(s.store)
	}
}

// nextTimeout derives the loop's sleep from the TTL heap's minimum, so an
// idle server wakes exactly when the next key should expire.
func (s *Server) nextTimeout() time.Duration {
	deadline, ok := s.store.NextDeadline()
	if !ok {
		return maxTickInterval
	}
	now := uint64(time.Now().UnixMilli())
	if deadline <= now {
		return 0
	}
	d := time.Duration(deadline-now) * time.Millisecond
	if d > maxTickInterval {
		d = maxTickInterval
	}
	return d
}

// serve executes one request and enqueues the encoded response on the
// originating connection.
func (s *Server) serve(req *request) {
	start := time.Now()
	resp := s.dispatch(req.argv)
	frame := proto.AppendResponse(nil, resp)
	req.conn.send(frame)
	s.stats.observeRequest(cmdName(req.argv), resp.Status, start)
}
