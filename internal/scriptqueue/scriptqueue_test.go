package scriptqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(Config{}, nil)
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("first")}))
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("second")}))

	s, ok := q.Dequeue("card-A")
	require.True(t, ok)
	assert.Equal(t, "first", string(s.Body))

	s, ok = q.Dequeue("card-A")
	require.True(t, ok)
	assert.Equal(t, "second", string(s.Body))

	_, ok = q.Dequeue("card-A")
	assert.False(t, ok)
}

func TestEnqueueRefusesUnknownIdentityWhenAllowlisted(t *testing.T) {
	q := New(Config{}, nil)
	q.AllowIdentity("card-A")
	err := q.Enqueue("card-Z", Script{Body: []byte("x")})
	assert.ErrorIs(t, err, ErrIdentityUnknown)
}

func TestQueueFullAtCapacityScripts(t *testing.T) {
	q := New(Config{CapacityScripts: 2}, nil)
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("a")}))
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("b")}))
	err := q.Enqueue("card-A", Script{Body: []byte("c")})
	assert.ErrorIs(t, err, ErrQueueFull)

	_, ok := q.Dequeue("card-A")
	require.True(t, ok)
	assert.NoError(t, q.Enqueue("card-A", Script{Body: []byte("c")}))
}

func TestQueueFullAtCapacityBytes(t *testing.T) {
	q := New(Config{CapacityBytes: 4}, nil)
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("abcd")}))
	err := q.Enqueue("card-A", Script{Body: []byte("e")})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPeekLenAfterEnqueue(t *testing.T) {
	q := New(Config{}, nil)
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("x")}))
	assert.GreaterOrEqual(t, q.PeekLen("card-A"), 1)
}

func TestDequeueEvictsExpiredScripts(t *testing.T) {
	var evictions []EvictReason
	q := New(Config{}, func(identity string, s Script, reason EvictReason) {
		evictions = append(evictions, reason)
	})
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("stale"), ExpiresAt: time.Now().Add(-time.Second)}))
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("fresh")}))

	s, ok := q.Dequeue("card-A")
	require.True(t, ok)
	assert.Equal(t, "fresh", string(s.Body))
	require.Len(t, evictions, 1)
	assert.Equal(t, EvictExpired, evictions[0])
}

func TestDropPurgesAndReportsEviction(t *testing.T) {
	var reasons []EvictReason
	q := New(Config{}, func(identity string, s Script, reason EvictReason) {
		reasons = append(reasons, reason)
	})
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("a")}))
	require.NoError(t, q.Enqueue("card-A", Script{Body: []byte("b")}))

	q.Drop("card-A")
	assert.Equal(t, 0, q.PeekLen("card-A"))
	require.Len(t, reasons, 2)
	assert.Equal(t, EvictDropped, reasons[0])
}

func TestDequeueOnEmptyQueueIsNone(t *testing.T) {
	q := New(Config{}, nil)
	_, ok := q.Dequeue("card-A")
	assert.False(t, ok)
}
