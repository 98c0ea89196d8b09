package securitymonitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuspectedBruteForceAfterThreshold(t *testing.T) {
	var alerts []Alert
	cfg := Config{Mismatch: WindowConfig{Window: time.Minute, Threshold: 3}}
	m := New(cfg, func(a Alert) { alerts = append(alerts, a) }, nil)

	m.RecordMismatch("10.0.0.1:1234", "card-Z")
	m.RecordMismatch("10.0.0.1:1234", "card-Z")
	assert.Empty(t, alerts)

	m.RecordMismatch("10.0.0.1:1234", "card-Z")
	require.Len(t, alerts, 1)
	assert.Equal(t, KindMismatch, alerts[0].Kind)
	assert.Equal(t, "10.0.0.1:1234", alerts[0].Peer)
}

func TestMismatchCountersAreIndependentPerPeer(t *testing.T) {
	var alerts []Alert
	cfg := Config{Mismatch: WindowConfig{Window: time.Minute, Threshold: 2}}
	m := New(cfg, func(a Alert) { alerts = append(alerts, a) }, nil)

	m.RecordMismatch("peer-A", "card-Z")
	m.RecordMismatch("peer-B", "card-Z")
	assert.Empty(t, alerts)
}

func TestHandshakeFailureSpike(t *testing.T) {
	var alerts []Alert
	cfg := Config{HandshakeFailure: WindowConfig{Window: time.Minute, Threshold: 2}}
	m := New(cfg, func(a Alert) { alerts = append(alerts, a) }, nil)

	m.RecordHandshakeFailure("peer-A")
	assert.Empty(t, alerts)
	m.RecordHandshakeFailure("peer-B")
	require.Len(t, alerts, 1)
	assert.Equal(t, KindHandshakeFailure, alerts[0].Kind)
}

func TestHighErrorRatePerIdentity(t *testing.T) {
	var alerts []Alert
	cfg := Config{APDUError: WindowConfig{Window: time.Minute, Threshold: 2}}
	m := New(cfg, func(a Alert) { alerts = append(alerts, a) }, nil)

	m.RecordAPDUError("card-A")
	m.RecordAPDUError("card-A")
	require.Len(t, alerts, 1)
	assert.Equal(t, "card-A", alerts[0].Identity)
}

func TestWindowExpiresOldObservations(t *testing.T) {
	var alerts []Alert
	cfg := Config{Mismatch: WindowConfig{Window: 10 * time.Millisecond, Threshold: 2}}
	m := New(cfg, func(a Alert) { alerts = append(alerts, a) }, nil)

	m.RecordMismatch("peer-A", "card-Z")
	time.Sleep(20 * time.Millisecond)
	m.RecordMismatch("peer-A", "card-Z")
	assert.Empty(t, alerts)
}
