package pskcipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPremasterSecretShape(t *testing.T) {
	psk := []byte("0123456789abcdef")
	pm := PremasterSecret(psk)
	assert.Len(t, pm, 4+2*len(psk))
	assert.Equal(t, byte(0), pm[0])
	assert.Equal(t, byte(len(psk)), pm[1])
	for _, b := range pm[2 : 2+len(psk)] {
		assert.Equal(t, byte(0), b)
	}
	assert.True(t, bytes.Equal(pm[4+len(psk):], psk))
}

func TestMasterSecretDeterministic(t *testing.T) {
	psk := bytes.Repeat([]byte{0x42}, 16)
	pm := PremasterSecret(psk)
	cr := bytes.Repeat([]byte{0x01}, 32)
	sr := bytes.Repeat([]byte{0x02}, 32)

	m1 := MasterSecret(sha256New, pm, cr, sr)
	m2 := MasterSecret(sha256New, pm, cr, sr)
	assert.Equal(t, m1, m2)
	assert.Len(t, m1, 48)
}

func TestSealOpenRoundTripEachSuite(t *testing.T) {
	for _, id := range []ID{IDAES256SHA384, IDAES128SHA256, IDAES256SHA1, IDAES128SHA1, IDNullSHA256, IDNullSHA1} {
		t.Run(string(id), func(t *testing.T) {
			psk := bytes.Repeat([]byte{0x07}, 16)
			pm := PremasterSecret(psk)
			cr := bytes.Repeat([]byte{0x01}, 32)
			sr := bytes.Repeat([]byte{0x02}, 32)

			client, err := NewSuite(id)
			require.NoError(t, err)
			server, err := NewSuite(id)
			require.NoError(t, err)

			master := MasterSecret(sha256New, pm, cr, sr)
			require.NoError(t, client.Init(master, cr, sr, true))
			require.NoError(t, server.Init(master, cr, sr, false))

			plaintext := []byte("80 16 00 00 01 FF")
			sealed, err := client.Seal(0, 23, plaintext)
			require.NoError(t, err)

			opened, err := server.Open(0, 23, sealed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, opened)
		})
	}
}

func TestOpenRejectsTamperedRecord(t *testing.T) {
	psk := bytes.Repeat([]byte{0x07}, 16)
	pm := PremasterSecret(psk)
	cr := bytes.Repeat([]byte{0x01}, 32)
	sr := bytes.Repeat([]byte{0x02}, 32)
	master := MasterSecret(sha256New, pm, cr, sr)

	client, _ := NewSuite(IDAES128SHA256)
	server, _ := NewSuite(IDAES128SHA256)
	require.NoError(t, client.Init(master, cr, sr, true))
	require.NoError(t, server.Init(master, cr, sr, false))

	sealed, err := client.Seal(0, 23, []byte("hello"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = server.Open(0, 23, sealed)
	assert.Error(t, err)
}

func TestOpenRejectsWrongSequenceNumber(t *testing.T) {
	psk := bytes.Repeat([]byte{0x07}, 16)
	pm := PremasterSecret(psk)
	cr := bytes.Repeat([]byte{0x01}, 32)
	sr := bytes.Repeat([]byte{0x02}, 32)
	master := MasterSecret(sha256New, pm, cr, sr)

	client, _ := NewSuite(IDNullSHA256)
	server, _ := NewSuite(IDNullSHA256)
	require.NoError(t, client.Init(master, cr, sr, true))
	require.NoError(t, server.Init(master, cr, sr, false))

	sealed, err := client.Seal(0, 23, []byte("hello"))
	require.NoError(t, err)

	_, err = server.Open(1, 23, sealed)
	assert.Error(t, err)
}
