// Package connpool implements the connection pool: the accept loop,
// admission control, per-session worker dispatch and cooperative
// graceful shutdown. The worker dispatch and shutdown sequencing is
// built on golang.org/x/sync/errgroup, generalized from a fixed set of
// named goroutines to one goroutine per accepted Session bounded by a
// semaphore-style admission gate.
package connpool

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scp81/admin-server/internal/cipherpolicy"
	"github.com/scp81/admin-server/internal/eventbus"
	"github.com/scp81/admin-server/internal/keystore"
	"github.com/scp81/admin-server/internal/scriptqueue"
	"github.com/scp81/admin-server/internal/securitymonitor"
	"github.com/scp81/admin-server/internal/session"
	"github.com/scp81/admin-server/internal/tlspsk"
)

// Config bounds admission and shutdown.
type Config struct {
	MaxConnections   int
	ThreadPoolSize   int
	HandshakeTimeout time.Duration
	ShutdownGrace    time.Duration
	Session          session.Config
}

const (
	DefaultMaxConnections   = 100
	DefaultThreadPoolSize   = 10
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultShutdownGrace    = 5 * time.Second
)

func DefaultConfig() Config {
	return Config{
		MaxConnections:   DefaultMaxConnections,
		ThreadPoolSize:   DefaultThreadPoolSize,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ShutdownGrace:    DefaultShutdownGrace,
		Session:          session.DefaultConfig(),
	}
}

// Deps are the shared collaborators every Session needs, constructed
// once at server startup.
type Deps struct {
	KeyStore keystore.Store
	Policy   *cipherpolicy.Policy
	Scripts  *scriptqueue.Queue
	Bus      *eventbus.Bus
	Monitor  *securitymonitor.Monitor
}

// Pool is the ConnectionPool: it accepts raw connections from a
// net.Listener, admits or immediately refuses them, drives the PSK
// handshake, and hands successfully handshaken connections to a
// session.Session running on a bounded worker.
type Pool struct {
	cfg  Config
	deps Deps

	sem chan struct{} // admission gate, capacity MaxConnections

	mu       sync.Mutex
	sessions map[string]trackedSession
}

type trackedSession struct {
	sess *session.Session
	conn net.Conn
}

// New constructs a Pool. cfg zero value is replaced with DefaultConfig.
func New(cfg Config, deps Deps) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.ThreadPoolSize <= 0 {
		cfg.ThreadPoolSize = DefaultThreadPoolSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	return &Pool{
		cfg:      cfg,
		deps:     deps,
		sem:      make(chan struct{}, cfg.MaxConnections),
		sessions: make(map[string]trackedSession),
	}
}

// ActiveCount reports the number of sessions currently tracked by the pool.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Serve runs the accept loop until ctx is cancelled or Accept fails
// permanently. On shutdown it stops accepting, lets in-flight sessions
// observe ctx and transition to DRAINING on their own, and force-closes
// any session still open once cfg.ShutdownGrace elapses.
func (p *Pool) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	limiter := make(chan struct{}, p.cfg.ThreadPoolSize)

	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		<-gctx.Done()
		timer := time.NewTimer(p.cfg.ShutdownGrace)
		defer timer.Stop()
		<-timer.C
		p.forceCloseRemaining()
		return nil
	})

	g.Go(func() error {
		for {
			raw, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}

			select {
			case p.sem <- struct{}{}:
			default:
				p.deps.Bus.Publish(eventbus.Event{Kind: eventbus.KindBackpressureDropped, Peer: raw.RemoteAddr()})
				_ = raw.Close()
				continue
			}

			limiter <- struct{}{}
			g.Go(func() error {
				defer func() { <-limiter; <-p.sem }()
				p.handle(gctx, raw)
				return nil
			})
		}
	})

	return g.Wait()
}

func (p *Pool) forceCloseRemaining() {
	p.mu.Lock()
	conns := make([]net.Conn, 0, len(p.sessions))
	for _, ts := range p.sessions {
		conns = append(conns, ts.conn)
	}
	p.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (p *Pool) handle(ctx context.Context, raw net.Conn) {
	conn, info, err := tlspsk.Server(raw, tlspsk.Config{
		Lookup:           p.deps.KeyStore.Lookup,
		Policy:           p.deps.Policy,
		HandshakeTimeout: p.cfg.HandshakeTimeout,
	})
	if err != nil {
		p.reportHandshakeFailure(raw, info, err)
		_ = raw.Close()
		return
	}

	sess := session.New(session.Deps{
		Conn:     conn,
		Peer:     raw.RemoteAddr(),
		Identity: info.Identity,
		Cipher:   info.Cipher,
		Scripts:  p.deps.Scripts,
		Bus:      p.deps.Bus,
		Monitor:  p.deps.Monitor,
		Config:   p.cfg.Session,
	})

	p.mu.Lock()
	p.sessions[sess.ID()] = trackedSession{sess: sess, conn: conn}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.sessions, sess.ID())
		p.mu.Unlock()
	}()

	sess.Run(ctx)
	_ = conn.Close()
}

func (p *Pool) reportHandshakeFailure(raw net.Conn, info tlspsk.HandshakeInfo, err error) {
	peer := raw.RemoteAddr()
	if errors.Is(err, tlspsk.ErrUnknownIdentity) {
		p.deps.Bus.Publish(eventbus.Event{Kind: eventbus.KindPskMismatch, Peer: peer, Identity: info.Identity})
		if p.deps.Monitor != nil {
			p.deps.Monitor.RecordMismatch(peer.String(), info.Identity)
		}
	}
	if errors.Is(err, tlspsk.ErrNoCipherOverlap) {
		p.deps.Bus.Publish(eventbus.Event{Kind: eventbus.KindCipherRejected, Peer: peer, Identity: info.Identity})
	}
	p.deps.Bus.Publish(eventbus.Event{Kind: eventbus.KindHandshakeFailed, Peer: peer, Cause: err.Error()})
	if p.deps.Monitor != nil {
		p.deps.Monitor.RecordHandshakeFailure(peer.String())
	}
}
