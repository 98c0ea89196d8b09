package tlspsk

import (
	"encoding/binary"
	"fmt"

	"github.com/scp81/admin-server/internal/pskcipher"
)

const randomLen = 32

// MaxIdentityLen bounds a PSK identity: an opaque
// UTF-8 byte string of at most 128 octets.
const MaxIdentityLen = 128

var suiteCodes = map[pskcipher.ID]uint16{
	pskcipher.IDAES256SHA384: 0x0001,
	pskcipher.IDAES128SHA256: 0x0002,
	pskcipher.IDAES256SHA1:   0x0003,
	pskcipher.IDAES128SHA1:   0x0004,
	pskcipher.IDNullSHA256:   0x0005,
	pskcipher.IDNullSHA1:     0x0006,
}

var codeToSuite = func() map[uint16]pskcipher.ID {
	m := make(map[uint16]pskcipher.ID, len(suiteCodes))
	for id, code := range suiteCodes {
		m[code] = id
	}
	return m
}()

type clientHello struct {
	random   [randomLen]byte
	identity string
	suites   []pskcipher.ID
}

func (h clientHello) marshal() []byte {
	idBytes := []byte(h.identity)
	buf := make([]byte, 0, randomLen+2+len(idBytes)+1+2*len(h.suites))
	buf = append(buf, h.random[:]...)
	buf = append(buf, byte(len(idBytes)>>8), byte(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = append(buf, byte(len(h.suites)))
	for _, s := range h.suites {
		code := suiteCodes[s]
		buf = append(buf, byte(code>>8), byte(code))
	}
	return buf
}

func unmarshalClientHello(b []byte) (clientHello, error) {
	var h clientHello
	if len(b) < randomLen+2 {
		return h, fmt.Errorf("tlspsk: truncated client hello")
	}
	copy(h.random[:], b[:randomLen])
	off := randomLen
	idLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if idLen > MaxIdentityLen || off+idLen > len(b) {
		return h, fmt.Errorf("tlspsk: invalid identity length %d", idLen)
	}
	h.identity = string(b[off : off+idLen])
	off += idLen
	if off >= len(b) {
		return h, fmt.Errorf("tlspsk: truncated client hello suite list")
	}
	count := int(b[off])
	off++
	if off+2*count > len(b) {
		return h, fmt.Errorf("tlspsk: truncated client hello suite list")
	}
	for i := 0; i < count; i++ {
		code := binary.BigEndian.Uint16(b[off:])
		off += 2
		if id, ok := codeToSuite[code]; ok {
			h.suites = append(h.suites, id)
		}
	}
	return h, nil
}

type serverHello struct {
	random [randomLen]byte
	suite  pskcipher.ID
}

func (h serverHello) marshal() []byte {
	buf := make([]byte, 0, randomLen+2)
	buf = append(buf, h.random[:]...)
	code := suiteCodes[h.suite]
	buf = append(buf, byte(code>>8), byte(code))
	return buf
}

func unmarshalServerHello(b []byte) (serverHello, error) {
	var h serverHello
	if len(b) < randomLen+2 {
		return h, fmt.Errorf("tlspsk: truncated server hello")
	}
	copy(h.random[:], b[:randomLen])
	code := binary.BigEndian.Uint16(b[randomLen:])
	id, ok := codeToSuite[code]
	if !ok {
		return h, fmt.Errorf("tlspsk: unknown cipher suite code %#x", code)
	}
	h.suite = id
	return h, nil
}

// AlertDescription mirrors the handful of TLS alert descriptions this
// handshake can produce.
type AlertDescription byte

const (
	AlertUnknownPSKIdentity AlertDescription = 115
	AlertHandshakeFailure   AlertDescription = 40
	AlertInsufficientSecurity AlertDescription = 71
	AlertCloseNotify        AlertDescription = 0
)

func (a AlertDescription) String() string {
	switch a {
	case AlertUnknownPSKIdentity:
		return "unknown_psk_identity"
	case AlertHandshakeFailure:
		return "handshake_failure"
	case AlertInsufficientSecurity:
		return "insufficient_security"
	case AlertCloseNotify:
		return "close_notify"
	default:
		return fmt.Sprintf("alert(%d)", byte(a))
	}
}
