package control

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/security"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 200
)

// HandleRecentEvents serves GET /tenants/{id}/events/recent, the poll
// counterpart to the gateway's websocket tail. limit is clamped to
// [1, maxRecentLimit]; after_event_id, when present, filters to events
// strictly newer than it; types, when present, is a comma-separated
// allowlist of event type names.
func (c *Control) HandleRecentEvents(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}

	q := req.URL.Query()
	limit := defaultRecentLimit
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	var afterEventID uint64
	if raw := q.Get("after_event_id"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			afterEventID = n
		}
	}

	var typeFilter map[string]bool
	if raw := q.Get("types"); raw != "" {
		typeFilter = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				typeFilter[t] = true
			}
		}
	}

	var (
		records []*recentEvent
		err     error
	)
	if afterEventID > 0 {
		recs, listErr := c.store.ListEventsSince(tenant.ID, afterEventID, limit)
		err = listErr
		for _, r := range recs {
			records = append(records, &recentEvent{EventID: r.EventID, Type: r.Type, CreatedAt: r.CreatedAt, Payload: r.Payload})
		}
	} else {
		recs, listErr := c.store.ListRecentEvents(tenant.ID, limit)
		err = listErr
		for _, r := range recs {
			records = append(records, &recentEvent{EventID: r.EventID, Type: r.Type, CreatedAt: r.CreatedAt, Payload: r.Payload})
		}
	}
	if err != nil {
		writeInternalError(resp, err)
		return
	}

	if typeFilter != nil {
		filtered := records[:0]
		for _, r := range records {
			if typeFilter[r.Type] {
				filtered = append(filtered, r)
			}
		}
		records = filtered
	}

	writeJSON(resp, http.StatusOK, map[string]interface{}{"events": records})
}

type recentEvent struct {
	EventID   uint64          `json:"event_id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// HandleBridgeIngest serves POST /internal/events, the worker's sole write
// path into the event log. Authorization is the static bridge token shared
// out of band, not a per-tenant action token: the worker forwards events for
// whichever tenants it is currently running.
func (c *Control) HandleBridgeIngest(resp http.ResponseWriter, req *http.Request) {
	token, ok := bearerToken(req)
	if !ok || !security.VerifyBridgeToken(c.bridgeKey, token) {
		writeError(resp, http.StatusUnauthorized, "invalid_bridge_token", nil)
		return
	}

	var body client.ForwardEventRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}

	payload, err := bus.DecodePayload(bus.EventType(body.Type), body.Payload)
	if err != nil {
		writeValidationError(resp, "invalid_event_payload")
		return
	}

	if _, err := c.bus.Publish(body.TenantID, payload); err != nil {
		writeInternalError(resp, err)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}
