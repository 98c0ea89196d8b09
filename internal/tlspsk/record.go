package tlspsk

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Content types, chosen to echo the real TLS record content-type space
// without claiming wire compatibility with it.
const (
	contentAlert     byte = 21
	contentHandshake byte = 22
	contentAppData   byte = 23
)

const (
	versionMajor byte = 3
	versionMinor byte = 3 // "TLS 1.2" for HandshakeInfo purposes
)

// maxRecordLen bounds a single record fragment, standing in for TLS's
// 2^14 limit.
const maxRecordLen = 1 << 14

type rawRecord struct {
	contentType byte
	payload     []byte
}

func writeRecord(w io.Writer, r rawRecord) error {
	if len(r.payload) > maxRecordLen {
		return fmt.Errorf("tlspsk: record too large (%d bytes)", len(r.payload))
	}
	header := make([]byte, 5)
	header[0] = r.contentType
	header[1] = versionMajor
	header[2] = versionMinor
	binary.BigEndian.PutUint16(header[3:], uint16(len(r.payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(r.payload)
	return err
}

func readRecord(r io.Reader) (rawRecord, error) {
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return rawRecord{}, err
	}
	length := binary.BigEndian.Uint16(header[3:])
	if int(length) > maxRecordLen {
		return rawRecord{}, fmt.Errorf("tlspsk: oversized record header (%d bytes)", length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return rawRecord{}, err
	}
	return rawRecord{contentType: header[0], payload: payload}, nil
}
