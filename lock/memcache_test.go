package lock

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/tomhel/mapcache/pool"
)

// fakeMemcacheServer mirrors internal/memcacheproto's test double: just
// enough of the ASCII protocol for MemcacheLocker's add/get/delete usage.
type fakeMemcacheServer struct {
	ln         net.Listener
	data       map[string][]byte
	garbledGet string // if set, "get" on this key returns a malformed reply
}

func newFakeMemcacheServer(t *testing.T) *fakeMemcacheServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeMemcacheServer{ln: ln, data: make(map[string][]byte)}
	go s.serve()
	return s
}

func (s *fakeMemcacheServer) addr() string { return s.ln.Addr().String() }
func (s *fakeMemcacheServer) close()       { s.ln.Close() }

func (s *fakeMemcacheServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeMemcacheServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(strings.TrimRight(line, "\r\n"))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "add":
			key := fields[1]
			n, _ := strconv.Atoi(fields[4])
			buf := make([]byte, n+2)
			if _, err := readFullTest(r, buf); err != nil {
				return
			}
			if _, exists := s.data[key]; exists {
				conn.Write([]byte("NOT_STORED\r\n"))
				continue
			}
			s.data[key] = buf[:n]
			conn.Write([]byte("STORED\r\n"))
		case "get":
			key := fields[1]
			if s.garbledGet != "" && key == s.garbledGet {
				conn.Write([]byte("ERROR\r\n"))
				continue
			}
			val, ok := s.data[key]
			if !ok {
				conn.Write([]byte("END\r\n"))
				continue
			}
			conn.Write([]byte("VALUE " + key + " 0 " + strconv.Itoa(len(val)) + "\r\n"))
			conn.Write(val)
			conn.Write([]byte("\r\nEND\r\n"))
		case "delete":
			key := fields[1]
			if _, ok := s.data[key]; !ok {
				conn.Write([]byte("NOT_FOUND\r\n"))
				continue
			}
			delete(s.data, key)
			conn.Write([]byte("DELETED\r\n"))
		default:
			conn.Write([]byte("ERROR\r\n"))
		}
	}
}

func readFullTest(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestMemcacheLockerAcquireLockedRelease(t *testing.T) {
	srv := newFakeMemcacheServer(t)
	defer srv.close()

	p := pool.New(pool.Options{}, nil)
	m := NewMemcacheLocker(srv.addr(), "mapcache", p, DefaultBase())
	ctx := newTestCtx()

	res, tok := m.Acquire(ctx, "basemap/3/4/5")
	if res != Acquired {
		t.Fatalf("first Acquire = %v, want Acquired", res)
	}

	res2, _ := m.Acquire(ctx, "basemap/3/4/5")
	if res2 != Locked {
		t.Fatalf("second Acquire = %v, want Locked", res2)
	}

	if got := m.Ping(ctx, tok); got != Locked {
		t.Fatalf("Ping on held lock = %v, want Locked", got)
	}

	m.Release(ctx, tok)

	if got := m.Ping(ctx, tok); got != Noent {
		t.Fatalf("Ping after Release = %v, want Noent", got)
	}
}

func TestMemcacheLockerPingUnknownTokenIsNoent(t *testing.T) {
	srv := newFakeMemcacheServer(t)
	defer srv.close()

	p := pool.New(pool.Options{}, nil)
	m := NewMemcacheLocker(srv.addr(), "mapcache", p, DefaultBase())
	ctx := newTestCtx()

	if got := m.Ping(ctx, "not-a-memcache-token"); got != Noent {
		t.Fatalf("got %v, want Noent for a token of the wrong type", got)
	}
}

func TestMemcacheLockerPingBackendErrorInvalidatesExactlyOnce(t *testing.T) {
	srv := newFakeMemcacheServer(t)
	defer srv.close()

	p := pool.New(pool.Options{}, nil)
	m := NewMemcacheLocker(srv.addr(), "mapcache", p, DefaultBase())
	ctx := newTestCtx()

	key := m.key("basemap/3/4/5")
	srv.garbledGet = key

	if got := m.Ping(ctx, memcacheToken(key)); got != Noent {
		t.Fatalf("Ping on a malformed reply = %v, want Noent", got)
	}

	live, idle := p.Stats(m.poolKey())
	if live != 0 || idle != 0 {
		t.Fatalf("got live=%d idle=%d, want both 0: a failed borrow must be invalidated, not also released", live, idle)
	}
}

func TestMemcacheLockerAcquireFailsWhenServerUnreachable(t *testing.T) {
	p := pool.New(pool.Options{}, nil)
	m := NewMemcacheLocker("127.0.0.1:1", "mapcache", p, DefaultBase())
	ctx := newTestCtx()

	res, tok := m.Acquire(ctx, "basemap/3/4/5")
	if res != Noent || tok != nil {
		t.Fatalf("got res=%v tok=%v, want Noent/nil when the server is unreachable", res, tok)
	}
	if !ctx.HasError() {
		t.Fatal("expected the dial error to propagate onto ctx")
	}
}
