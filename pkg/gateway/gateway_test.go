package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/storage"
)

func TestFromEvent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e := &bus.Event{
		EventID:   42,
		TenantID:  "tenant-1",
		Type:      "runtime.status",
		CreatedAt: now,
		Payload:   json.RawMessage(`{"state":"running"}`),
	}

	got := fromEvent(e)

	assert.Equal(t, uint64(42), got.EventID)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "runtime.status", got.Type)
	assert.Equal(t, now, got.CreatedAt)
	assert.JSONEq(t, `{"state":"running"}`, string(got.Payload))
}

func TestFromRecord(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := &storage.EventRecord{
		EventID:   7,
		TenantID:  "tenant-2",
		Type:      "whatsapp.qr",
		CreatedAt: now,
		Payload:   json.RawMessage(`{"qr":"abc123"}`),
	}

	got := fromRecord(r)

	assert.Equal(t, uint64(7), got.EventID)
	assert.Equal(t, "tenant-2", got.TenantID)
	assert.Equal(t, "whatsapp.qr", got.Type)
	assert.Equal(t, now, got.CreatedAt)
	assert.JSONEq(t, `{"qr":"abc123"}`, string(got.Payload))
}

func TestWireEvent_JSONRoundTrip(t *testing.T) {
	ev := wireEvent{
		EventID:   1,
		TenantID:  "tenant-1",
		Type:      "config.applied",
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:   json.RawMessage(`{"revision":3}`),
	}

	data, err := json.Marshal(ev)
	assert.NoError(t, err)

	var decoded wireEvent
	assert.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev.EventID, decoded.EventID)
	assert.Equal(t, ev.TenantID, decoded.TenantID)
	assert.Equal(t, ev.Type, decoded.Type)
	assert.JSONEq(t, string(ev.Payload), string(decoded.Payload))
}
