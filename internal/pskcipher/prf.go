// Package pskcipher implements the key derivation and record encryption
// used by internal/tlspsk's PSK-TLS 1.2 handshake.
//
// crypto/tls has never implemented PSK ciphersuites, and no ecosystem
// library implements them for a byte-stream (TCP) TLS connection either
// (github.com/pion/dtls implements PSK only for datagram transport with a
// different record layer, so it cannot be imported here — see
// DESIGN.md). This package is the one place in the module built directly
// on crypto/* primitives rather than a third-party library, and it
// follows the TLS 1.2 PRF (RFC 5246 section 5) and the RFC 4279 PSK
// premaster-secret construction, with a cipher-suite interface shaped
// after pion/dtls's own CipherSuite interface (ID/HashFunc/Encrypt/Decrypt).
package pskcipher

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// HashFunc names the MAC/PRF hash a suite uses.
type HashFunc func() hash.Hash

// pHash implements RFC 5246's P_hash(secret, seed) expansion function:
// repeated HMAC(secret, A(i) || seed), where A(0) = seed.
func pHash(h HashFunc, secret, seed []byte, length int) []byte {
	out := make([]byte, 0, length)
	a := seed

	mac := hmac.New(h, secret)
	mac.Write(a)
	a = mac.Sum(nil)

	for len(out) < length {
		mac = hmac.New(h, secret)
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)

		mac = hmac.New(h, secret)
		mac.Write(a)
		a = mac.Sum(nil)
	}
	return out[:length]
}

// PRF is the TLS 1.2 pseudo-random function: PRF(secret, label, seed).
func PRF(h HashFunc, secret []byte, label string, seed []byte, length int) []byte {
	fullSeed := append([]byte(label), seed...)
	return pHash(h, secret, fullSeed, length)
}

// PremasterSecret builds the RFC 4279 PSK premaster secret:
// uint16(len(psk)) || zeros(len(psk)) || uint16(len(psk)) || psk.
// The leading zero block stands in for an (absent) "other" secret, which
// is how RFC 4279 reuses the certificate-based premaster-secret format for
// a pure-PSK handshake.
func PremasterSecret(psk []byte) []byte {
	n := len(psk)
	out := make([]byte, 0, 4+2*n)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, make([]byte, n)...)
	out = append(out, byte(n>>8), byte(n))
	out = append(out, psk...)
	return out
}

// MasterSecret derives the 48-byte TLS 1.2 master secret from a premaster
// secret and the client/server randoms.
func MasterSecret(h HashFunc, premaster, clientRandom, serverRandom []byte) []byte {
	seed := append(append([]byte{}, clientRandom...), serverRandom...)
	return PRF(h, premaster, "master secret", seed, 48)
}

// KeyBlock is the key-expansion output, split per RFC 5246 section 6.3.
type KeyBlock struct {
	ClientMACKey  []byte
	ServerMACKey  []byte
	ClientWriteKey []byte
	ServerWriteKey []byte
}

// ExpandKeys derives a KeyBlock from the master secret. macLen and keyLen
// are the suite's MAC-key and bulk-cipher-key lengths (keyLen is 0 for the
// NULL suites).
func ExpandKeys(h HashFunc, masterSecret, clientRandom, serverRandom []byte, macLen, keyLen int) KeyBlock {
	seed := append(append([]byte{}, serverRandom...), clientRandom...)
	total := 2*macLen + 2*keyLen
	block := PRF(h, masterSecret, "key expansion", seed, total)

	kb := KeyBlock{}
	off := 0
	kb.ClientMACKey = block[off : off+macLen]
	off += macLen
	kb.ServerMACKey = block[off : off+macLen]
	off += macLen
	if keyLen > 0 {
		kb.ClientWriteKey = block[off : off+keyLen]
		off += keyLen
		kb.ServerWriteKey = block[off : off+keyLen]
	}
	return kb
}

// VerifyData computes the Finished message payload: PRF(master, label,
// Hash(handshake transcript))[:12].
func VerifyData(h HashFunc, masterSecret []byte, label string, transcriptHash []byte) []byte {
	return PRF(h, masterSecret, label, transcriptHash, 12)
}

func sha256New() hash.Hash { return sha256.New() }
func sha384New() hash.Hash { return sha512.New384() }
func sha1New() hash.Hash   { return sha1.New() }
