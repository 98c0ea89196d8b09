// Package eventbus fans admin-server lifecycle events out to subscribers.
//
// The event catalog and the dispatcher shape are modeled on a typed,
// bounded-channel event dispatcher: delivery is asynchronous, each
// subscriber owns a bounded inbox, and a full inbox drops the event for
// that subscriber rather than blocking the publisher.
package eventbus

import (
	"fmt"
	"net"
	"time"

	"github.com/scp81/admin-server/internal/safelog"
)

// Kind tags the variant carried by an Event.
type Kind string

const (
	KindServerStarted          Kind = "ServerStarted"
	KindServerStopped          Kind = "ServerStopped"
	KindSessionOpened          Kind = "SessionOpened"
	KindSessionClosed          Kind = "SessionClosed"
	KindHandshakeCompleted     Kind = "HandshakeCompleted"
	KindHandshakeFailed        Kind = "HandshakeFailed"
	KindPskMismatch            Kind = "PskMismatch"
	KindCipherRejected         Kind = "CipherRejected"
	KindApduReceived           Kind = "ApduReceived"
	KindApduSent               Kind = "ApduSent"
	KindSuspectedBruteForce    Kind = "SuspectedBruteForce"
	KindHandshakeFailureSpike  Kind = "HandshakeFailureSpike"
	KindHighErrorRate          Kind = "HighErrorRate"
	KindBackpressureDropped    Kind = "BackpressureDropped"
	KindScriptEvicted          Kind = "ScriptEvicted"
)

// Event is an immutable, tagged payload. Every event carries a timestamp
// and a server-wide monotonic sequence number assigned by the Bus.
type Event struct {
	Kind Kind
	Seq  uint64
	Time time.Time

	// Payload fields. Only those relevant to Kind are populated; this
	// mirrors the one-struct-per-kind catalog but flattened
	// into a single type so a bounded channel of Event needs no
	// interface boxing or type switch at the transport layer.
	SessionID   string
	Peer        net.Addr
	Identity    string
	Cipher      string
	Reason      string
	BytesIn     int
	BytesOut    int
	StatusWord  uint16
	APDUIn      uint64
	APDUOut     uint64
	Duration    time.Duration
	Host        string
	Port        int
	Suites      []string
	Cause       string
	CorrelationID string
}

func (e Event) String() string {
	switch e.Kind {
	case KindServerStarted:
		return fmt.Sprintf("server started on %s:%d suites=%v", e.Host, e.Port, e.Suites)
	case KindServerStopped:
		return fmt.Sprintf("server stopped: %s", e.Reason)
	case KindSessionOpened:
		return fmt.Sprintf("session %s opened from %s", e.SessionID, addrString(e.Peer))
	case KindSessionClosed:
		return fmt.Sprintf("session %s closed: %s (apdu_in=%d apdu_out=%d dur=%s)", e.SessionID, e.Reason, e.APDUIn, e.APDUOut, e.Duration)
	case KindHandshakeCompleted:
		return fmt.Sprintf("session %s handshake completed identity=%s cipher=%s", e.SessionID, e.Identity, e.Cipher)
	case KindHandshakeFailed:
		scrubbed := safelog.Scrub([]byte(e.Cause))
		return fmt.Sprintf("handshake failed from %s: %s", addrString(e.Peer), scrubbed)
	case KindPskMismatch:
		return fmt.Sprintf("psk mismatch from %s identity=%s", addrString(e.Peer), e.Identity)
	case KindCipherRejected:
		return fmt.Sprintf("cipher rejected from %s: %s", addrString(e.Peer), e.Cipher)
	case KindApduReceived:
		return fmt.Sprintf("session %s apdu in %d bytes", e.SessionID, e.BytesIn)
	case KindApduSent:
		return fmt.Sprintf("session %s apdu out %d bytes sw=%04x", e.SessionID, e.BytesOut, e.StatusWord)
	case KindSuspectedBruteForce:
		return fmt.Sprintf("suspected brute force from %s", addrString(e.Peer))
	case KindHandshakeFailureSpike:
		return "handshake failure spike"
	case KindHighErrorRate:
		return fmt.Sprintf("high apdu error rate for identity=%s", e.Identity)
	case KindBackpressureDropped:
		return fmt.Sprintf("backpressure dropped connection from %s", addrString(e.Peer))
	case KindScriptEvicted:
		return fmt.Sprintf("script %s evicted for identity=%s: %s", e.CorrelationID, e.Identity, e.Reason)
	default:
		return string(e.Kind)
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return "?"
	}
	return a.String()
}
