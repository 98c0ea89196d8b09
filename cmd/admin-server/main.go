// Command admin-server runs the SCP81 PSK-TLS Admin Server: it wires the
// cipher policy, key store, event bus, security monitor, script queue
// and connection pool together, listens for UICC admin connections, and
// serves Prometheus metrics, assembling every component in main() before
// handing off to a blocking Serve.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scp81/admin-server/internal/cipherpolicy"
	"github.com/scp81/admin-server/internal/config"
	"github.com/scp81/admin-server/internal/connpool"
	"github.com/scp81/admin-server/internal/eventbus"
	"github.com/scp81/admin-server/internal/keystore"
	"github.com/scp81/admin-server/internal/safelog"
	"github.com/scp81/admin-server/internal/scriptqueue"
	"github.com/scp81/admin-server/internal/securitymonitor"
	"github.com/scp81/admin-server/internal/session"
	"github.com/scp81/admin-server/internal/version"
)

func main() {
	log.SetOutput(&safelog.LogScrubber{Output: os.Stderr})
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Parse(flag.CommandLine, config.Defaults(), os.Args[1:])
	if err != nil {
		log.Fatalf("admin-server: invalid configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("admin-server: %v", err)
	}
}

func run(cfg config.Config) error {
	log.Printf("admin-server %s starting", version.GetVersion())

	policy, err := cipherpolicy.New(cipherpolicy.Config{
		EnableProduction: cfg.CipherEnableProduction,
		EnableLegacy:     cfg.CipherEnableLegacy,
		EnableNull:       cfg.CipherEnableNull,
	})
	if err != nil {
		return fmt.Errorf("cipher policy: %w", err)
	}
	if policy.UsesNull() {
		log.Printf("admin-server: WARNING: NULL ciphersuites are enabled — connections accepted under them carry no confidentiality")
	}
	if policy.UsesLegacy() {
		log.Printf("admin-server: Legacy (SHA-1) ciphersuites are enabled")
	}

	store, err := buildKeyStore(cfg)
	if err != nil {
		return fmt.Errorf("key store: %w", err)
	}

	reg := prometheus.NewRegistry()
	bus := eventbus.NewBus(reg)
	bus.Subscribe("log", 0, eventbus.SubscriberFunc(func(e eventbus.Event) {
		log.Print(e.String())
	}))

	monitor := securitymonitor.New(securitymonitor.Config{
		Mismatch:         securitymonitor.WindowConfig{Window: cfg.SecurityMismatchWindow(), Threshold: cfg.SecurityMismatchThreshold},
		HandshakeFailure: securitymonitor.DefaultConfig().HandshakeFailure,
		APDUError:        securitymonitor.WindowConfig{Window: cfg.SecurityErrorWindow(), Threshold: cfg.SecurityErrorThreshold},
	}, func(alert securitymonitor.Alert) {
		publishAlert(bus, alert)
	}, reg)

	scripts := scriptqueue.New(scriptqueue.Config{
		CapacityScripts: cfg.QueueCapacityScripts,
		CapacityBytes:   cfg.QueueCapacityBytes,
	}, func(identity string, s scriptqueue.Script, reason scriptqueue.EvictReason) {
		bus.Publish(eventbus.Event{Kind: eventbus.KindScriptEvicted, Identity: identity, Reason: evictReasonString(reason)})
	})

	pool := connpool.New(connpool.Config{
		MaxConnections:   cfg.MaxConnections,
		ThreadPoolSize:   cfg.ThreadPoolSize,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		ShutdownGrace:    cfg.ShutdownGrace(),
		Session: session.Config{
			SessionTimeout:        cfg.SessionTimeout(),
			ReadTimeout:           cfg.ReadTimeout(),
			MaxRequestsPerSession: session.DefaultConfig().MaxRequestsPerSession,
			ContentType:           session.DefaultConfig().ContentType,
			Limits:                session.DefaultConfig().Limits,
		},
	}, connpool.Deps{
		KeyStore: store,
		Policy:   policy,
		Scripts:  scripts,
		Bus:      bus,
		Monitor:  monitor,
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	suiteNames := policy.EnabledNames()
	bus.Publish(eventbus.Event{Kind: eventbus.KindServerStarted, Host: cfg.Host, Port: cfg.Port, Suites: suiteNames})
	log.Printf("admin-server listening on %s with suites %v", ln.Addr(), suiteNames)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("admin-server: shutdown signal received")
		cancel()
	}()

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("admin-server: metrics server error: %v", err)
		}
	}()

	serveErr := pool.Serve(ctx, ln)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	bus.Publish(eventbus.Event{Kind: eventbus.KindServerStopped, Reason: "shutdown complete"})
	log.Printf("admin-server stopped")
	return serveErr
}

func buildKeyStore(cfg config.Config) (keystore.Store, error) {
	switch cfg.KeyStoreBackend {
	case "file":
		return keystore.NewFile(cfg.KeyStoreFile)
	case "memory", "":
		return keystore.NewMemory(nil)
	default:
		return nil, fmt.Errorf("unknown key store backend %q", cfg.KeyStoreBackend)
	}
}

func evictReasonString(r scriptqueue.EvictReason) string {
	switch r {
	case scriptqueue.EvictExpired:
		return "expired"
	case scriptqueue.EvictDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

func publishAlert(bus *eventbus.Bus, alert securitymonitor.Alert) {
	switch alert.Kind {
	case securitymonitor.KindMismatch:
		bus.Publish(eventbus.Event{Kind: eventbus.KindSuspectedBruteForce, Peer: peerAddr(alert.Peer)})
	case securitymonitor.KindHandshakeFailure:
		bus.Publish(eventbus.Event{Kind: eventbus.KindHandshakeFailureSpike, Peer: peerAddr(alert.Peer)})
	case securitymonitor.KindAPDUError:
		bus.Publish(eventbus.Event{Kind: eventbus.KindHighErrorRate, Identity: alert.Identity})
	}
}

// peerAddr adapts securitymonitor.Alert's string-keyed peer back to a
// net.Addr for the event payload; it carries no port-parsing semantics
// beyond display.
type peerAddr string

func (p peerAddr) Network() string { return "tcp" }
func (p peerAddr) String() string  { return string(p) }

var _ net.Addr = peerAddr("")
