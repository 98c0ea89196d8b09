// Package session implements the per-connection state machine:
// IDLE -> HANDSHAKING -> ACTIVE -> DRAINING -> CLOSED. A Session is
// constructed after connpool has already completed the PSK handshake via
// tlspsk.Server, so New creates it in ACTIVE and it owns exactly one HTTP
// request/response cycle at a time, strictly sequential, over the
// lifetime of one TLS connection — one goroutine owning one connection's
// lifecycle start to finish, rather than multiplexing state across
// connections.
package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/scp81/admin-server/internal/eventbus"
	"github.com/scp81/admin-server/internal/httpcodec"
	"github.com/scp81/admin-server/internal/scriptqueue"
	"github.com/scp81/admin-server/internal/securitymonitor"
)

// State is a Session's position in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateHandshaking
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reason is the termination reason code emitted verbatim in the terminal
// SessionClosed event.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNormal
	ReasonIdleTimeout
	ReasonMaxRequests
	ReasonClientReset
	ReasonIoError
	ReasonProtocolViolation
	ReasonServerShutdown
)

func (r Reason) String() string {
	switch r {
	case ReasonNormal:
		return "Normal"
	case ReasonIdleTimeout:
		return "IdleTimeout"
	case ReasonMaxRequests:
		return "MaxRequests"
	case ReasonClientReset:
		return "ClientReset"
	case ReasonIoError:
		return "IoError"
	case ReasonProtocolViolation:
		return "ProtocolViolation"
	case ReasonServerShutdown:
		return "ServerShutdown"
	default:
		return "None"
	}
}

// Config bounds one Session's lifetime.
type Config struct {
	SessionTimeout        time.Duration
	ReadTimeout           time.Duration
	MaxRequestsPerSession int
	ContentType           string
	Limits                httpcodec.Limits
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout:        300 * time.Second,
		ReadTimeout:           30 * time.Second,
		MaxRequestsPerSession: 256,
		ContentType:           httpcodec.DefaultContentType,
		Limits:                httpcodec.DefaultLimits(),
	}
}

// closeNotifier is implemented by tlspsk.Conn; kept as a local interface
// so this package does not import tlspsk directly (ConnectionPool wires
// the two together instead).
type closeNotifier interface {
	CloseNotify() error
}

// Deps are the collaborators a Session needs, all already constructed by
// the connection pool.
type Deps struct {
	Conn     net.Conn
	Peer     net.Addr
	Identity string
	Cipher   string
	Scripts  *scriptqueue.Queue
	Bus      *eventbus.Bus
	Monitor  *securitymonitor.Monitor
	Config   Config
}

// Session is a single TLS connection's admin dialog. The connection pool
// tracks Sessions by their stable id rather than holding the Session
// value itself in a cyclic reference; a Session holds no back-reference
// to its pool.
type Session struct {
	id       string
	peer     net.Addr
	identity string
	cipher   string
	conn     net.Conn
	scripts  *scriptqueue.Queue
	bus      *eventbus.Bus
	monitor  *securitymonitor.Monitor
	cfg      Config

	mu             sync.Mutex
	state          State
	createdAt      time.Time
	lastActivityAt time.Time
	reason         Reason
}

// New constructs a Session already past HANDSHAKING (identity and cipher
// are always set at construction time, matching the invariant that
// identity is None only in IDLE/HANDSHAKING).
func New(d Deps) *Session {
	now := time.Now()
	cfg := d.Config
	if cfg.SessionTimeout == 0 {
		cfg = DefaultConfig()
	}
	return &Session{
		id:             uuid.NewString(),
		peer:           d.Peer,
		identity:       d.Identity,
		cipher:         d.Cipher,
		conn:           d.Conn,
		scripts:        d.Scripts,
		bus:            d.Bus,
		monitor:        d.Monitor,
		cfg:            cfg,
		state:          StateActive,
		createdAt:      now,
		lastActivityAt: now,
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) Identity() string { return s.identity }
func (s *Session) Cipher() string   { return s.cipher }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Session) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now()
	s.mu.Unlock()
}

// recordError reports an HTTP-level error response (4xx) to the
// SecurityMonitor's per-identity APDU-error window.
func (s *Session) recordError() {
	if s.monitor != nil {
		s.monitor.RecordAPDUError(s.identity)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Run drives the ACTIVE -> DRAINING -> CLOSED lifecycle for one accepted,
// already-handshaken connection, until ctx is cancelled (server
// shutdown) or the connection terminates for any other reason. Run
// always returns after emitting SessionClosed; it never panics on a
// protocol or I/O error, translating every such error into a Reason
// instead.
func (s *Session) Run(ctx context.Context) {
	s.setState(StateActive)
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindSessionOpened, SessionID: s.id, Peer: s.peer})
	s.bus.Publish(eventbus.Event{Kind: eventbus.KindHandshakeCompleted, SessionID: s.id, Identity: s.identity, Cipher: s.cipher})

	var apduIn, apduOut uint64
	finalReason := ReasonNormal

	defer func() {
		s.mu.Lock()
		s.state = StateClosed
		s.reason = finalReason
		created := s.createdAt
		s.mu.Unlock()
		s.bus.Publish(eventbus.Event{
			Kind:      eventbus.KindSessionClosed,
			SessionID: s.id,
			Reason:    finalReason.String(),
			APDUIn:    apduIn,
			APDUOut:   apduOut,
			Duration:  time.Since(created),
		})
	}()

	reader := bufio.NewReader(s.conn)
	requestCount := 0

loop:
	for {
		select {
		case <-ctx.Done():
			finalReason = ReasonServerShutdown
			break loop
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.SessionTimeout)); err != nil {
			finalReason = ReasonIoError
			break loop
		}
		if _, err := reader.Peek(1); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				finalReason = ReasonClientReset
			case isTimeout(err):
				finalReason = ReasonIdleTimeout
			default:
				finalReason = ReasonIoError
			}
			break loop
		}
		s.touch()

		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			finalReason = ReasonIoError
			break loop
		}
		req, err := httpcodec.Decode(reader, s.cfg.Limits)
		if err != nil {
			if errors.Is(err, httpcodec.ErrRequestTooLarge) {
				_ = httpcodec.Encode(s.conn, httpcodec.Response{Status: httpcodec.StatusRequestTooLarge})
				s.recordError()
				finalReason = ReasonProtocolViolation
			} else if isTimeout(err) {
				finalReason = ReasonIoError
			} else {
				finalReason = ReasonProtocolViolation
			}
			break loop
		}
		s.touch()

		select {
		case <-ctx.Done():
			_ = httpcodec.Encode(s.conn, httpcodec.Response{Status: httpcodec.StatusServiceDraining})
			finalReason = ReasonServerShutdown
			break loop
		default:
		}

		if req.Method != "POST" {
			_ = httpcodec.Encode(s.conn, httpcodec.Response{Status: httpcodec.StatusMethodNotAllowed})
			s.recordError()
			finalReason = ReasonProtocolViolation
			break loop
		}
		if req.Path != "/admin" {
			_ = httpcodec.Encode(s.conn, httpcodec.Response{Status: httpcodec.StatusNotFound})
			s.recordError()
			finalReason = ReasonProtocolViolation
			break loop
		}

		atomic.AddUint64(&apduIn, 1)
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindApduReceived, SessionID: s.id, BytesIn: len(req.Body)})

		script, ok := s.scripts.Dequeue(s.identity)
		var resp httpcodec.Response
		if ok {
			resp = httpcodec.Response{Status: httpcodec.StatusOK, ContentType: s.cfg.ContentType, Body: script.Body}
		} else {
			resp = httpcodec.Response{Status: httpcodec.StatusNoContent}
		}
		if err := httpcodec.Encode(s.conn, resp); err != nil {
			finalReason = ReasonIoError
			break loop
		}
		atomic.AddUint64(&apduOut, 1)
		s.bus.Publish(eventbus.Event{Kind: eventbus.KindApduSent, SessionID: s.id, BytesOut: len(resp.Body), StatusWord: uint16(resp.Status)})

		requestCount++
		if requestCount >= s.cfg.MaxRequestsPerSession {
			finalReason = ReasonMaxRequests
			break loop
		}
	}

	if finalReason == ReasonMaxRequests || finalReason == ReasonServerShutdown {
		s.setState(StateDraining)
		if cn, ok := s.conn.(closeNotifier); ok {
			_ = cn.CloseNotify()
		}
	} else {
		s.setState(StateClosed)
	}
}
