package tlspsk

import (
	"fmt"
	"net"

	"github.com/scp81/admin-server/internal/pskcipher"
)

// simClientHandshake drives the client side of the handshake and exists
// purely so this package's own tests can exercise Server without a real UICC or
// GlobalPlatform stack attached. Implementing the UICC side of this
// protocol is an explicit non-goal of the admin server product itself,
// so this helper is unexported and lives beside the code it tests rather
// than being offered as a library entry point.
func simClientHandshake(raw net.Conn, identity string, key []byte, offered []pskcipher.ID) (*Conn, error) {
	clientRandom, err := randomBytes()
	if err != nil {
		return nil, err
	}
	ch := clientHello{random: clientRandom, identity: identity, suites: offered}
	if err := writeRecord(raw, rawRecord{contentType: contentHandshake, payload: ch.marshal()}); err != nil {
		return nil, err
	}

	shRec, err := readRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("tlspsk: reading server hello: %w", err)
	}
	if shRec.contentType == contentAlert {
		return nil, fmt.Errorf("tlspsk: server sent alert %s", AlertDescription(shRec.payload[0]))
	}
	sh, err := unmarshalServerHello(shRec.payload)
	if err != nil {
		return nil, err
	}

	suite, err := pskcipher.NewSuite(sh.suite)
	if err != nil {
		return nil, err
	}
	premaster := pskcipher.PremasterSecret(key)
	master := pskcipher.MasterSecret(suite.HashFunc(), premaster, ch.random[:], sh.random[:])
	if err := suite.Init(master, ch.random[:], sh.random[:], true); err != nil {
		return nil, err
	}

	transcript := append(append([]byte{}, ch.marshal()...), shRec.payload...)
	h := suite.HashFunc()()
	h.Write(transcript)
	transcriptHash := h.Sum(nil)

	finRec, err := readRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("tlspsk: reading server finished: %w", err)
	}
	serverVerifyGot, err := suite.Open(0, contentHandshake, finRec.payload)
	if err != nil {
		return nil, fmt.Errorf("tlspsk: %w", err)
	}
	serverVerifyWant := pskcipher.VerifyData(suite.HashFunc(), master, "server finished", transcriptHash)
	if !constantTimeEqual(serverVerifyGot, serverVerifyWant) {
		return nil, ErrProtocolViolation
	}

	clientVerify := pskcipher.VerifyData(suite.HashFunc(), master, "client finished", transcriptHash)
	sealed, err := suite.Seal(0, contentHandshake, clientVerify)
	if err != nil {
		return nil, err
	}
	if err := writeRecord(raw, rawRecord{contentType: contentHandshake, payload: sealed}); err != nil {
		return nil, err
	}

	return &Conn{raw: raw, suite: suite, readSeq: 1, writeSeq: 1}, nil
}
