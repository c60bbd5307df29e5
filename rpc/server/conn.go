package server

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lhartmann/kedis/lib/queue"
	"github.com/lhartmann/kedis/rpc/proto"
)

// readChunk is the size of the per-connection read buffer each read fills
// before the framer runs.
const readChunk = 64 * 1024

// connection pairs a socket with its framer goroutine and an unbounded
// outgoing queue drained by a writer goroutine. The store loop never blocks
// on a connection: responses are enqueued and the writer flushes them.
type connection struct {
	id   uint64
	sock net.Conn
	srv  *Server

	out       *queue.MPSC[[]byte]
	closeOnce sync.Once
}

func newConnection(id uint64, sock net.Conn, srv *Server) *connection {
	return &connection{
		id:   id,
		sock: sock,
		srv:  srv,
		out:  queue.NewMPSC[[]byte](),
	}
}

// start launches the reader and writer goroutines.
func (c *connection) start() {
	go c.readLoop()
	go c.writeLoop()
}

// send enqueues an encoded response frame. Frames are written in enqueue
// order, which is the order the store loop produced them.
func (c *connection) send(frame []byte) {
	c.out.Push(&frame)
}

// close initiates teardown: the writer drains what is queued, then closes
// the socket, which in turn unblocks the reader.
func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.out.Close()
		c.srv.dropConn(c)
	})
}

// terminate is close plus immediately unblocking any pending socket I/O;
// used on server shutdown.
func (c *connection) terminate() {
	c.close()
	_ = c.sock.SetDeadline(time.Now())
}

// readLoop appends socket bytes to the incoming buffer and runs the framer
// over it, submitting every complete request to the store loop. Pipelined
// requests already buffered are drained before the next read.
func (c *connection) readLoop() {
	defer c.close()

	var incoming []byte
	chunk := make([]byte, readChunk)
	for {
		if t := c.srv.idleTimeout; t > 0 {
			_ = c.sock.SetReadDeadline(time.Now().Add(t))
		}
		n, err := c.sock.Read(chunk)
		if n > 0 {
			c.srv.stats.bytesIn.Add(int64(n))
			incoming = append(incoming, chunk[:n]...)
			consumed, ok := c.drainRequests(incoming)
			if !ok {
				return
			}
			if consumed > 0 {
				incoming = incoming[:copy(incoming, incoming[consumed:])]
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				Logger.Debugf("conn %d read error: %v", c.id, err)
			}
			return
		}
	}
}

// drainRequests extracts every complete frame from buf and hands the parsed
// commands to the store loop. It returns the number of bytes consumed and
// false when the connection must close (protocol violation or shutdown).
func (c *connection) drainRequests(buf []byte) (int, bool) {
	consumed := 0
	for {
		payload, n, err := proto.NextFrame(buf[consumed:])
		if err != nil {
			Logger.Warningf("conn %d: %v", c.id, err)
			return consumed, false
		}
		if n == 0 {
			return consumed, true
		}
		consumed += n

		// The request outlives this buffer, so it gets its own copy before
		// the argv slices are cut from it.
		owned := append([]byte(nil), payload...)
		argv, err := proto.ParseRequest(owned)
		if err != nil {
			Logger.Warningf("conn %d: %v", c.id, err)
			return consumed, false
		}
		if !c.srv.submit(c, argv) {
			return consumed, false
		}
	}
}

// writeLoop flushes queued response frames until the queue closes, then
// closes the socket.
func (c *connection) writeLoop() {
	defer func() {
		_ = c.sock.Close()
	}()
	broken := false
	for frame := range c.out.Recv() {
		if broken {
			continue // keep draining so the queue's pump can finish
		}
		if _, err := c.sock.Write(*frame); err != nil {
			Logger.Debugf("conn %d write error: %v", c.id, err)
			c.close()
			broken = true
			continue
		}
		c.srv.stats.bytesOut.Add(int64(len(*frame)))
	}
}
