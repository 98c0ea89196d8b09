package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scp81/admin-server/internal/eventbus"
	"github.com/scp81/admin-server/internal/scriptqueue"
)

func newTestSession(t *testing.T, conn net.Conn, cfg Config) (*Session, *eventbus.Bus, *scriptqueue.Queue) {
	t.Helper()
	bus := eventbus.NewBus(nil)
	scripts := scriptqueue.New(scriptqueue.Config{}, nil)
	s := New(Deps{
		Conn:     conn,
		Peer:     conn.RemoteAddr(),
		Identity: "card-A",
		Cipher:   "TLS_PSK_WITH_AES_128_CBC_SHA256",
		Scripts:  scripts,
		Bus:      bus,
		Config:   cfg,
	})
	return s, bus, scripts
}

type recordingSub struct {
	events chan eventbus.Event
}

func (r *recordingSub) Handle(e eventbus.Event) { r.events <- e }

func TestHappyPathServesQueuedScript(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	cfg := DefaultConfig()
	cfg.SessionTimeout = 50 * time.Millisecond
	cfg.ReadTimeout = time.Second

	s, bus, scripts := newTestSession(t, serverConn, cfg)
	require.NoError(t, scripts.Enqueue("card-A", scriptqueue.Script{Body: []byte("A0A40000")}))

	sub := &recordingSub{events: make(chan eventbus.Event, 16)}
	bus.Subscribe("test", 16, sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Drive one request/response cycle as the client.
	clientReader := bufio.NewReader(clientConn)
	_, err := clientConn.Write([]byte("POST /admin HTTP/1.1\r\nContent-Length: 6\r\n\r\n\x80\x16\x00\x00\x01\xff"))
	require.NoError(t, err)

	resp, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, resp, "200")

	// Read the remaining headers and the body, so the session's body write
	// over the unbuffered pipe completes.
	for {
		line, err := clientReader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}
	body := make([]byte, len("A0A40000"))
	_, err = io.ReadFull(clientReader, body)
	require.NoError(t, err)
	assert.Equal(t, "A0A40000", string(body))

	cancel()
	<-done
	assert.Equal(t, StateClosed, s.State())
}

func TestUnsupportedMethodTerminatesWithProtocolViolation(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	cfg := DefaultConfig()
	cfg.SessionTimeout = time.Second
	cfg.ReadTimeout = time.Second
	s, _, _ := newTestSession(t, serverConn, cfg)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	_, err := clientConn.Write([]byte("GET /admin HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	clientReader := bufio.NewReader(clientConn)
	resp, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, resp, "405")
	// Encode's empty body write arrives on the pipe as a zero-length read.
	_, err = clientConn.Read(make([]byte, 1))
	require.NoError(t, err)

	<-done
	assert.Equal(t, ReasonProtocolViolation, s.Reason())
}

func TestMaxRequestsPerSessionTransitionsToDraining(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	cfg := DefaultConfig()
	cfg.SessionTimeout = time.Second
	cfg.ReadTimeout = time.Second
	cfg.MaxRequestsPerSession = 1
	s, _, _ := newTestSession(t, serverConn, cfg)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	_, err := clientConn.Write([]byte("POST /admin HTTP/1.1\r\nContent-Length: 0\r\n\r\n"))
	require.NoError(t, err)
	clientReader := bufio.NewReader(clientConn)
	_, err = clientReader.ReadString('\n')
	require.NoError(t, err)
	// Encode's empty body write arrives on the pipe as a zero-length read.
	_, err = clientConn.Read(make([]byte, 1))
	require.NoError(t, err)

	<-done
	assert.Equal(t, ReasonMaxRequests, s.Reason())
}
