// Package tlspsk implements the PSK-TLS 1.2-like handshake and record
// layer the connection pool accepts connections through. It sits where
// other daemons would reach for golang.org/x/crypto/acme/autocert plus
// crypto/tls: crypto/tls has no PSK ciphersuite support and no ecosystem
// library implements one over a TCP byte stream (see internal/pskcipher's
// doc comment and DESIGN.md), so the handshake state machine here is
// necessarily hand-built on top of internal/pskcipher.
package tlspsk

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/scp81/admin-server/internal/pskcipher"
)

// Errors surfaced by Server's handshake.
var (
	ErrUnknownIdentity = errors.New("tlspsk: unknown PSK identity")
	ErrNoCipherOverlap  = errors.New("tlspsk: no cipher suite acceptable to policy was offered")
	ErrProtocolViolation = errors.New("tlspsk: protocol violation during handshake")
)

// LookupFunc resolves a PSK identity to its key, matching
// keystore.Store.Lookup's signature without importing that package (kept
// decoupled so tlspsk has no dependency on how the key is stored).
type LookupFunc func(identity string) (key []byte, ok bool)

// PolicyFunc reports whether a cipher suite name is permitted, matching
// cipherpolicy.Policy.Permits without an import cycle; it also returns the
// permitted suites in preference order for suite selection.
type PolicyFunc interface {
	Permits(name string) bool
	EnabledNames() []string
}

// Config configures Server's handshake.
type Config struct {
	Lookup           LookupFunc
	Policy           PolicyFunc
	HandshakeTimeout time.Duration
}

// HandshakeInfo is the (peer, identity, cipher) tuple a completed
// handshake surfaces to its caller.
type HandshakeInfo struct {
	Identity   string
	Cipher     string
	TLSVersion string
}

// Conn is a PSK-TLS connection: a net.Conn wrapping a raw TCP stream with
// an active cipher suite performing MAC-then-encrypt framing per record.
type Conn struct {
	raw    net.Conn
	suite  pskcipher.Suite
	readSeq, writeSeq uint64
	readBuf []byte
}

var _ net.Conn = (*Conn)(nil)

func (c *Conn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		rec, err := readRecord(c.raw)
		if err != nil {
			return 0, err
		}
		switch rec.contentType {
		case contentAppData:
			plain, err := c.suite.Open(c.readSeq, contentAppData, rec.payload)
			c.readSeq++
			if err != nil {
				return 0, fmt.Errorf("tlspsk: %w", err)
			}
			c.readBuf = plain
		case contentAlert:
			return 0, fmt.Errorf("tlspsk: peer sent alert %s", AlertDescription(rec.payload[0]))
		default:
			return 0, ErrProtocolViolation
		}
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// writeChunk bounds how much plaintext goes into a single record so the
// sealed output (IV + ciphertext + MAC + padding) stays under maxRecordLen.
const writeChunk = 8192

func (c *Conn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > writeChunk {
			n = writeChunk
		}
		sealed, err := c.suite.Seal(c.writeSeq, contentAppData, p[:n])
		c.writeSeq++
		if err != nil {
			return total, err
		}
		if err := writeRecord(c.raw, rawRecord{contentType: contentAppData, payload: sealed}); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

// CloseNotify sends a close-notify alert, mirroring the real TLS
// graceful-shutdown signal used to drain a connection.
func (c *Conn) CloseNotify() error {
	return writeRecord(c.raw, rawRecord{contentType: contentAlert, payload: []byte{byte(AlertCloseNotify)}})
}

func (c *Conn) Close() error                       { return c.raw.Close() }
func (c *Conn) LocalAddr() net.Addr                { return c.raw.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr               { return c.raw.RemoteAddr() }
func (c *Conn) SetDeadline(t time.Time) error       { return c.raw.SetDeadline(t) }
func (c *Conn) SetReadDeadline(t time.Time) error   { return c.raw.SetReadDeadline(t) }
func (c *Conn) SetWriteDeadline(t time.Time) error  { return c.raw.SetWriteDeadline(t) }

func randomBytes() ([randomLen]byte, error) {
	var b [randomLen]byte
	_, err := rand.Read(b[:])
	return b, err
}

func sendAlert(raw net.Conn, desc AlertDescription) {
	_ = writeRecord(raw, rawRecord{contentType: contentAlert, payload: []byte{byte(desc)}})
}

// Server drives the server side of the PSK-TLS handshake over raw,
// enforcing cfg.HandshakeTimeout as a hard deadline. On any failure the
// socket is left for the caller to close; Server itself only sends the
// alert (malformed ClientHello, unknown identity or disallowed cipher) before returning an
// error. Partial state never leaks to the caller: Server returns either
// a fully handshaken *Conn or an error, never both.
func Server(raw net.Conn, cfg Config) (*Conn, HandshakeInfo, error) {
	if cfg.HandshakeTimeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	defer raw.SetDeadline(time.Time{})

	chRec, err := readRecord(raw)
	if err != nil {
		return nil, HandshakeInfo{}, fmt.Errorf("tlspsk: reading client hello: %w", err)
	}
	if chRec.contentType != contentHandshake {
		return nil, HandshakeInfo{}, ErrProtocolViolation
	}
	ch, err := unmarshalClientHello(chRec.payload)
	if err != nil {
		sendAlert(raw, AlertHandshakeFailure)
		return nil, HandshakeInfo{}, err
	}

	key, ok := cfg.Lookup(ch.identity)
	if !ok {
		sendAlert(raw, AlertUnknownPSKIdentity)
		return nil, HandshakeInfo{Identity: ch.identity}, ErrUnknownIdentity
	}

	chosen, ok := selectSuite(cfg.Policy, ch.suites)
	if !ok {
		sendAlert(raw, AlertInsufficientSecurity)
		return nil, HandshakeInfo{Identity: ch.identity}, ErrNoCipherOverlap
	}

	serverRandom, err := randomBytes()
	if err != nil {
		return nil, HandshakeInfo{}, err
	}
	sh := serverHello{random: serverRandom, suite: chosen}
	if err := writeRecord(raw, rawRecord{contentType: contentHandshake, payload: sh.marshal()}); err != nil {
		return nil, HandshakeInfo{}, err
	}

	suite, err := pskcipher.NewSuite(chosen)
	if err != nil {
		return nil, HandshakeInfo{}, err
	}
	premaster := pskcipher.PremasterSecret(key)
	master := pskcipher.MasterSecret(suite.HashFunc(), premaster, ch.random[:], sh.random[:])
	if err := suite.Init(master, ch.random[:], sh.random[:], false); err != nil {
		return nil, HandshakeInfo{}, err
	}

	transcript := append(append([]byte{}, chRec.payload...), sh.marshal()...)
	h := suite.HashFunc()()
	h.Write(transcript)
	transcriptHash := h.Sum(nil)

	serverVerify := pskcipher.VerifyData(suite.HashFunc(), master, "server finished", transcriptHash)
	sealed, err := suite.Seal(0, contentHandshake, serverVerify)
	if err != nil {
		return nil, HandshakeInfo{}, err
	}
	if err := writeRecord(raw, rawRecord{contentType: contentHandshake, payload: sealed}); err != nil {
		return nil, HandshakeInfo{}, err
	}

	finRec, err := readRecord(raw)
	if err != nil {
		return nil, HandshakeInfo{}, fmt.Errorf("tlspsk: reading client finished: %w", err)
	}
	if finRec.contentType != contentHandshake {
		return nil, HandshakeInfo{}, ErrProtocolViolation
	}
	clientVerifyGot, err := suite.Open(0, contentHandshake, finRec.payload)
	if err != nil {
		return nil, HandshakeInfo{}, fmt.Errorf("tlspsk: %w", err)
	}
	clientVerifyWant := pskcipher.VerifyData(suite.HashFunc(), master, "client finished", transcriptHash)
	if !constantTimeEqual(clientVerifyGot, clientVerifyWant) {
		return nil, HandshakeInfo{}, ErrProtocolViolation
	}

	conn := &Conn{raw: raw, suite: suite, readSeq: 1, writeSeq: 1}
	info := HandshakeInfo{Identity: ch.identity, Cipher: string(chosen), TLSVersion: "TLS1.2"}
	return conn, info, nil
}

func selectSuite(policy PolicyFunc, offered []pskcipher.ID) (pskcipher.ID, bool) {
	for _, name := range policy.EnabledNames() {
		for _, off := range offered {
			if string(off) == name {
				return off, true
			}
		}
	}
	return "", false
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
