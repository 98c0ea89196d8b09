package pskcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
)

// ID identifies a cipher suite the way cipherpolicy.Suite.Name does, kept
// as a distinct type so pskcipher has no import-time dependency on the
// policy package.
type ID string

const (
	IDAES256SHA384 ID = "TLS_PSK_WITH_AES_256_CBC_SHA384"
	IDAES128SHA256 ID = "TLS_PSK_WITH_AES_128_CBC_SHA256"
	IDAES256SHA1   ID = "TLS_PSK_WITH_AES_256_CBC_SHA"
	IDAES128SHA1   ID = "TLS_PSK_WITH_AES_128_CBC_SHA"
	IDNullSHA256   ID = "TLS_PSK_WITH_NULL_SHA256"
	IDNullSHA1     ID = "TLS_PSK_WITH_NULL_SHA"
)

// Suite is the per-connection cipher state: MAC-then-encrypt CBC (or
// MAC-only for the NULL suites), following pion/dtls's
// CipherSuite.{Encrypt,Decrypt} shape but adapted to a TCP record layer.
type Suite interface {
	ID() ID
	HashFunc() HashFunc
	MACLen() int
	KeyLen() int
	BlockSize() int

	// Init derives per-direction keys from the master secret and randoms.
	Init(masterSecret, clientRandom, serverRandom []byte, isClient bool) error

	// Seal MACs and (if KeyLen>0) encrypts fragment for the given
	// sequence number/content type, returning the wire payload.
	Seal(seq uint64, contentType byte, fragment []byte) ([]byte, error)

	// Open verifies and (if KeyLen>0) decrypts a received record payload,
	// returning the plaintext fragment.
	Open(seq uint64, contentType byte, payload []byte) ([]byte, error)
}

type cbcSuite struct {
	id      ID
	hash    HashFunc
	macLen  int
	keyLen  int // 0 for NULL suites
	blkSize int

	writeMAC, readMAC   []byte
	writeKey, readKey   []byte
}

func newSuite(id ID, hash HashFunc, macLen, keyLen int) *cbcSuite {
	return &cbcSuite{id: id, hash: hash, macLen: macLen, keyLen: keyLen, blkSize: aes.BlockSize}
}

// NewSuite constructs the Suite implementation for id.
func NewSuite(id ID) (Suite, error) {
	switch id {
	case IDAES256SHA384:
		return newSuite(id, sha384New, 48, 32), nil
	case IDAES128SHA256:
		return newSuite(id, sha256New, 32, 16), nil
	case IDAES256SHA1:
		return newSuite(id, sha1New, 20, 32), nil
	case IDAES128SHA1:
		return newSuite(id, sha1New, 20, 16), nil
	case IDNullSHA256:
		return newSuite(id, sha256New, 32, 0), nil
	case IDNullSHA1:
		return newSuite(id, sha1New, 20, 0), nil
	default:
		return nil, fmt.Errorf("pskcipher: unknown suite %q", id)
	}
}

func (c *cbcSuite) ID() ID            { return c.id }
func (c *cbcSuite) HashFunc() HashFunc { return c.hash }
func (c *cbcSuite) MACLen() int       { return c.macLen }
func (c *cbcSuite) KeyLen() int       { return c.keyLen }
func (c *cbcSuite) BlockSize() int    { return c.blkSize }

func (c *cbcSuite) Init(masterSecret, clientRandom, serverRandom []byte, isClient bool) error {
	kb := ExpandKeys(c.hash, masterSecret, clientRandom, serverRandom, c.macLen, c.keyLen)
	if isClient {
		c.writeMAC, c.readMAC = kb.ClientMACKey, kb.ServerMACKey
		c.writeKey, c.readKey = kb.ClientWriteKey, kb.ServerWriteKey
	} else {
		c.writeMAC, c.readMAC = kb.ServerMACKey, kb.ClientMACKey
		c.writeKey, c.readKey = kb.ServerWriteKey, kb.ClientWriteKey
	}
	return nil
}

func macInput(seq uint64, contentType byte, fragment []byte) []byte {
	buf := make([]byte, 0, 8+1+2+len(fragment))
	var seqBuf [8]byte
	for i := 7; i >= 0; i-- {
		seqBuf[i] = byte(seq)
		seq >>= 8
	}
	buf = append(buf, seqBuf[:]...)
	buf = append(buf, contentType)
	buf = append(buf, byte(len(fragment)>>8), byte(len(fragment)))
	buf = append(buf, fragment...)
	return buf
}

func (c *cbcSuite) mac(key []byte, seq uint64, contentType byte, fragment []byte) []byte {
	m := hmac.New(c.hash, key)
	m.Write(macInput(seq, contentType, fragment))
	return m.Sum(nil)
}

// Seal MACs fragment, then (for non-NULL suites) CBC-encrypts
// fragment||MAC||padding behind a random explicit IV.
func (c *cbcSuite) Seal(seq uint64, contentType byte, fragment []byte) ([]byte, error) {
	tag := c.mac(c.writeMAC, seq, contentType, fragment)

	if c.keyLen == 0 {
		return append(append([]byte{}, fragment...), tag...), nil
	}

	plain := append(append([]byte{}, fragment...), tag...)
	padLen := c.blkSize - (len(plain)+1)%c.blkSize
	if padLen == c.blkSize {
		padLen = 0
	}
	for i := 0; i <= padLen; i++ {
		plain = append(plain, byte(padLen))
	}

	block, err := aes.NewCipher(c.writeKey)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, c.blkSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)

	return append(iv, out...), nil
}

var errBadRecord = errors.New("pskcipher: bad record (mac or padding)")

// Open reverses Seal. Errors are not differentiated between bad padding
// and bad MAC, by design, to avoid a padding oracle.
func (c *cbcSuite) Open(seq uint64, contentType byte, payload []byte) ([]byte, error) {
	if c.keyLen == 0 {
		if len(payload) < c.macLen {
			return nil, errBadRecord
		}
		fragment := payload[:len(payload)-c.macLen]
		gotTag := payload[len(payload)-c.macLen:]
		wantTag := c.mac(c.readMAC, seq, contentType, fragment)
		if !hmac.Equal(gotTag, wantTag) {
			return nil, errBadRecord
		}
		return fragment, nil
	}

	if len(payload) < c.blkSize || (len(payload)-c.blkSize)%c.blkSize != 0 {
		return nil, errBadRecord
	}
	iv := payload[:c.blkSize]
	ct := payload[c.blkSize:]
	if len(ct) == 0 {
		return nil, errBadRecord
	}

	block, err := aes.NewCipher(c.readKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	padLen := int(plain[len(plain)-1])
	if padLen+1 > len(plain) {
		return nil, errBadRecord
	}
	padded := plain[len(plain)-1-padLen:]
	for _, b := range padded {
		if int(b) != padLen {
			return nil, errBadRecord
		}
	}
	plain = plain[:len(plain)-1-padLen]

	if len(plain) < c.macLen {
		return nil, errBadRecord
	}
	fragment := plain[:len(plain)-c.macLen]
	gotTag := plain[len(plain)-c.macLen:]
	wantTag := c.mac(c.readMAC, seq, contentType, fragment)
	if !hmac.Equal(gotTag, wantTag) {
		return nil, errBadRecord
	}
	return fragment, nil
}
