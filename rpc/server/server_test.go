package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/lhartmann/kedis/rpc/common"
	"github.com/lhartmann/kedis/rpc/proto"
)

func startServer(t *testing.T) string {
	t.Helper()
	cfg := common.ServerConfig{
		Network:     "tcp",
		Listen:      "127.0.0.1:0",
		FreeWorkers: 2,
		LogLevel:    "error",
	}
	if err := common.InitLoggers(cfg); err != nil {
		t.Fatal(err)
	}

	s := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("server exited with %v", err)
		}
	})
	return s.Addr().String()
}

type client struct {
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	return &client{conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) roundTrip(t *testing.T, args ...string) proto.Response {
	t.Helper()
	argv := make([][]byte, len(args))
	for i, a := range args {
		argv[i] = []byte(a)
	}
	if _, err := c.conn.Write(proto.AppendRequest(nil, argv)); err != nil {
		t.Fatal(err)
	}
	resp, err := proto.ReadResponse(c.r)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func wantStatus(t *testing.T, resp proto.Response, status uint32) {
	t.Helper()
	if resp.Status != status {
		t.Fatalf("status = %s, want %s (data %q)",
			proto.StatusName(resp.Status), proto.StatusName(status), resp.Data)
	}
}

func asInt(t *testing.T, resp proto.Response) int64 {
	t.Helper()
	if len(resp.Data) != 8 {
		t.Fatalf("expected int64 payload, got %d bytes", len(resp.Data))
	}
	return int64(binary.LittleEndian.Uint64(resp.Data))
}

func TestSetGet(t *testing.T) {
	c := dial(t, startServer(t))

	resp := c.roundTrip(t, "set", "foo", "bar")
	wantStatus(t, resp, proto.StatusOK)
	if len(resp.Data) != 0 {
		t.Fatalf("set response carries data %q", resp.Data)
	}

	resp = c.roundTrip(t, "get", "foo")
	wantStatus(t, resp, proto.StatusOK)
	if !bytes.Equal(resp.Data, []byte("bar")) {
		t.Fatalf("get = %q, want bar", resp.Data)
	}
}

func TestDelThenMiss(t *testing.T) {
	c := dial(t, startServer(t))

	c.roundTrip(t, "set", "foo", "bar")
	wantStatus(t, c.roundTrip(t, "del", "foo"), proto.StatusOK)
	wantStatus(t, c.roundTrip(t, "get", "foo"), proto.StatusNX)
}

func TestExpiry(t *testing.T) {
	c := dial(t, startServer(t))

	c.roundTrip(t, "set", "k", "v")
	wantStatus(t, c.roundTrip(t, "pexpire", "k", "50"), proto.StatusOK)

	resp := c.roundTrip(t, "pttl", "k")
	wantStatus(t, resp, proto.StatusOK)
	if ms := asInt(t, resp); ms <= 0 || ms > 50 {
		t.Fatalf("pttl = %d, want (0,50]", ms)
	}

	time.Sleep(100 * time.Millisecond)
	wantStatus(t, c.roundTrip(t, "get", "k"), proto.StatusNX)
	wantStatus(t, c.roundTrip(t, "pttl", "k"), proto.StatusNX)
}

func TestSortedSet(t *testing.T) {
	c := dial(t, startServer(t))

	if n := asInt(t, c.roundTrip(t, "zadd", "z", "1.0", "a")); n != 1 {
		t.Fatalf("first zadd = %d, want 1", n)
	}
	if n := asInt(t, c.roundTrip(t, "zadd", "z", "2.0", "b")); n != 1 {
		t.Fatalf("second zadd = %d, want 1", n)
	}
	if n := asInt(t, c.roundTrip(t, "zadd", "z", "1.5", "a")); n != 0 {
		t.Fatalf("score update = %d, want 0", n)
	}

	resp := c.roundTrip(t, "zscore", "z", "a")
	wantStatus(t, resp, proto.StatusOK)
	if len(resp.Data) != 8 {
		t.Fatalf("zscore payload is %d bytes", len(resp.Data))
	}
	if got := math.Float64frombits(binary.LittleEndian.Uint64(resp.Data)); got != 1.5 {
		t.Fatalf("zscore = %v, want 1.5", got)
	}

	wantStatus(t, c.roundTrip(t, "zrem", "z", "a"), proto.StatusOK)
	wantStatus(t, c.roundTrip(t, "zscore", "z", "a"), proto.StatusNX)
}

func TestRangeQuery(t *testing.T) {
	c := dial(t, startServer(t))

	for i, name := range []string{"a", "b", "c", "d", "e"} {
		c.roundTrip(t, "zadd", "z", string(rune('1'+i)), name)
	}

	resp := c.roundTrip(t, "zquery", "z", "2", "", "0", "10")
	wantStatus(t, resp, proto.StatusOK)

	data := resp.Data
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if n != 4 {
		t.Fatalf("zquery returned %d pairs, want 4", n)
	}
	want := []struct {
		score float64
		name  string
	}{{2, "b"}, {3, "c"}, {4, "d"}, {5, "e"}}
	for _, w := range want {
		score := math.Float64frombits(binary.LittleEndian.Uint64(data))
		slen := binary.LittleEndian.Uint32(data[8:])
		name := string(data[12 : 12+slen])
		data = data[12+slen:]
		if score != w.score || name != w.name {
			t.Fatalf("pair = (%v, %s), want (%v, %s)", score, name, w.score, w.name)
		}
	}
	if len(data) != 0 {
		t.Fatalf("%d trailing bytes after pairs", len(data))
	}
}

func TestKeysCommand(t *testing.T) {
	c := dial(t, startServer(t))

	c.roundTrip(t, "set", "user:1", "x")
	c.roundTrip(t, "set", "user:2", "y")
	c.roundTrip(t, "set", "other", "z")

	resp := c.roundTrip(t, "keys", "user:*")
	wantStatus(t, resp, proto.StatusOK)

	data := resp.Data
	n := binary.LittleEndian.Uint32(data)
	data = data[4:]
	if n != 2 {
		t.Fatalf("keys matched %d, want 2", n)
	}
	seen := map[string]bool{}
	for i := uint32(0); i < n; i++ {
		slen := binary.LittleEndian.Uint32(data)
		seen[string(data[4:4+slen])] = true
		data = data[4+slen:]
	}
	if !seen["user:1"] || !seen["user:2"] {
		t.Fatalf("keys = %v", seen)
	}
}

// Pipelined requests written in one burst must come back as one response
// per request, in order.
func TestPipelining(t *testing.T) {
	c := dial(t, startServer(t))

	var burst []byte
	for _, argv := range [][][]byte{
		{[]byte("set"), []byte("a"), []byte("1")},
		{[]byte("set"), []byte("b"), []byte("2")},
		{[]byte("get"), []byte("a")},
		{[]byte("get"), []byte("b")},
	} {
		burst = proto.AppendRequest(burst, argv)
	}
	if _, err := c.conn.Write(burst); err != nil {
		t.Fatal(err)
	}

	want := []string{"", "", "1", "2"}
	for i, w := range want {
		resp, err := proto.ReadResponse(c.r)
		if err != nil {
			t.Fatalf("response %d: %v", i, err)
		}
		wantStatus(t, resp, proto.StatusOK)
		if string(resp.Data) != w {
			t.Fatalf("response %d = %q, want %q", i, resp.Data, w)
		}
	}
}

// Application errors keep the connection usable.
func TestApplicationErrors(t *testing.T) {
	c := dial(t, startServer(t))

	wantStatus(t, c.roundTrip(t, "nonsense"), proto.StatusErr)
	wantStatus(t, c.roundTrip(t, "get"), proto.StatusErr)
	wantStatus(t, c.roundTrip(t, "get", "a", "b"), proto.StatusErr)
	wantStatus(t, c.roundTrip(t, "pexpire", "k", "soon"), proto.StatusErr)
	wantStatus(t, c.roundTrip(t, "zadd", "z", "fast", "m"), proto.StatusErr)

	c.roundTrip(t, "set", "str", "v")
	wantStatus(t, c.roundTrip(t, "zadd", "str", "1", "m"), proto.StatusErr)

	// after all that, the connection still serves
	wantStatus(t, c.roundTrip(t, "get", "str"), proto.StatusOK)
}

// Protocol violations close the connection.
func TestProtocolViolationCloses(t *testing.T) {
	addr := startServer(t)

	t.Run("oversized frame", func(t *testing.T) {
		c := dial(t, addr)
		head := binary.LittleEndian.AppendUint32(nil, proto.MaxMsgLen+1)
		if _, err := c.conn.Write(head); err != nil {
			t.Fatal(err)
		}
		if _, err := c.r.ReadByte(); err == nil {
			t.Fatal("expected the server to close the connection")
		}
	})

	t.Run("trailing garbage", func(t *testing.T) {
		c := dial(t, addr)
		payload := binary.LittleEndian.AppendUint32(nil, 1) // nstr=1
		payload = proto.AppendString(payload, []byte("get"))
		payload = append(payload, 0xde, 0xad)
		frame := binary.LittleEndian.AppendUint32(nil, uint32(len(payload)))
		frame = append(frame, payload...)
		if _, err := c.conn.Write(frame); err != nil {
			t.Fatal(err)
		}
		if _, err := c.r.ReadByte(); err == nil {
			t.Fatal("expected the server to close the connection")
		}
	})
}

func TestManyClients(t *testing.T) {
	addr := startServer(t)

	const clients = 10
	done := make(chan struct{}, clients)
	for i := 0; i < clients; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			r := bufio.NewReader(conn)

			key := []byte{byte('a' + i)}
			for j := 0; j < 50; j++ {
				frame := proto.AppendRequest(nil, [][]byte{[]byte("set"), key, key})
				if _, err := conn.Write(frame); err != nil {
					t.Error(err)
					return
				}
				if _, err := proto.ReadResponse(r); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	for i := 0; i < clients; i++ {
		<-done
	}
}
