package external

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scp81/admin-server/internal/eventbus"
)

func TestMemorySinkRecordsEventsInOrder(t *testing.T) {
	sink := &MemorySink{}
	var _ AuditSink = sink
	var _ DashboardSubscriber = sink

	sink.Handle(eventbus.Event{Kind: eventbus.KindServerStarted, Seq: 1})
	sink.Handle(eventbus.Event{Kind: eventbus.KindServerStopped, Seq: 2})

	got := sink.Events()
	assert.Len(t, got, 2)
	assert.Equal(t, eventbus.KindServerStarted, got[0].Kind)
	assert.Equal(t, eventbus.KindServerStopped, got[1].Kind)
}
