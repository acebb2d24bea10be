// Package gateway implements the WebSocket half of the event stream
// delivered to authenticated clients; the polling half lives alongside the
// rest of the tenant HTTP surface in pkg/control.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/log"
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/security"
	"github.com/nexusd/nexusd/pkg/storage"
	"github.com/nexusd/nexusd/pkg/types"
)

const (
	defaultReplay = 80
	maxReplay     = 200
	pingInterval  = 30 * time.Second
	writeWait     = 10 * time.Second
)

// SessionVerifier is the slice of security.SessionIssuer the gateway needs.
type SessionVerifier interface {
	VerifyAccessToken(token string) (*security.SessionClaims, error)
}

// TenantStore is the slice of storage.Store the gateway needs: ownership
// checks and historical catch-up.
type TenantStore interface {
	GetTenant(id string) (*types.Tenant, error)
	ListEventsSince(tenantID string, afterEventID uint64, limit int) ([]*storage.EventRecord, error)
	ListRecentEvents(tenantID string, limit int) ([]*storage.EventRecord, error)
}

// Gateway serves the authenticated WebSocket event stream.
type Gateway struct {
	store    TenantStore
	bus      *bus.Broker
	sessions SessionVerifier
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// New builds a Gateway.
func New(store TenantStore, broker *bus.Broker, sessions SessionVerifier) *Gateway {
	return &Gateway{
		store:    store,
		bus:      broker,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("gateway"),
	}
}

// Routes registers the WebSocket endpoint on r.
func (g *Gateway) Routes(r *mux.Router) {
	r.HandleFunc("/events/ws", g.handleStream).Methods(http.MethodGet)
}

type wireEvent struct {
	EventID   uint64          `json:"event_id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

func fromEvent(e *bus.Event) wireEvent {
	return wireEvent{EventID: e.EventID, TenantID: e.TenantID, Type: string(e.Type), CreatedAt: e.CreatedAt, Payload: e.Payload}
}

func fromRecord(r *storage.EventRecord) wireEvent {
	return wireEvent{EventID: r.EventID, TenantID: r.TenantID, Type: r.Type, CreatedAt: r.CreatedAt, Payload: r.Payload}
}

// handleStream authenticates the caller, enforces tenant ownership, replays
// history, then streams live events until the client disconnects or the
// broker drops it for lagging.
func (g *Gateway) handleStream(resp http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	tenantID := q.Get("tenant_id")

	claims, err := g.sessions.VerifyAccessToken(q.Get("token"))
	if err != nil {
		http.Error(resp, "invalid_access_token", http.StatusUnauthorized)
		return
	}
	tenant, err := g.store.GetTenant(tenantID)
	if err != nil || tenant == nil {
		http.Error(resp, "tenant_not_found", http.StatusNotFound)
		return
	}
	if tenant.OwnerUserID != claims.UserID {
		http.Error(resp, "forbidden", http.StatusForbidden)
		return
	}

	replay := defaultReplay
	if raw := q.Get("replay"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			replay = n
		}
	}
	if replay > maxReplay {
		replay = maxReplay
	}
	var afterEventID uint64
	if raw := q.Get("after_event_id"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			afterEventID = n
		}
	}

	conn, err := g.upgrader.Upgrade(resp, req, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	lastSent := afterEventID
	var catchUp []*storage.EventRecord
	if afterEventID > 0 {
		catchUp, err = g.store.ListEventsSince(tenantID, afterEventID, replay)
	} else {
		catchUp, err = g.store.ListRecentEvents(tenantID, replay)
	}
	if err != nil {
		g.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("catch-up read failed")
		return
	}
	for _, rec := range catchUp {
		if rec.EventID <= lastSent {
			continue
		}
		if err := g.writeEvent(conn, fromRecord(rec)); err != nil {
			return
		}
		lastSent = rec.EventID
	}

	sub, err := g.bus.Subscribe(tenantID)
	if err != nil {
		g.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("subscribe failed")
		return
	}
	defer g.bus.Unsubscribe(sub)

	metrics.WSSubscribersTotal.Inc()
	defer metrics.WSSubscribersTotal.Dec()

	closed := make(chan struct{})
	go g.drainClientReads(conn, closed)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case reason, ok := <-sub.Closed():
			if ok {
				metrics.WSDisconnectsTotal.WithLabelValues(string(reason)).Inc()
			}
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.EventID <= lastSent {
				continue
			}
			if err := g.writeEvent(conn, fromEvent(ev)); err != nil {
				return
			}
			lastSent = ev.EventID
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) writeEvent(conn *websocket.Conn, ev wireEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

// drainClientReads discards client frames (this stream is server-to-client
// only) and closes closed when the connection drops, so the main select
// loop notices a client-initiated close promptly.
func (g *Gateway) drainClientReads(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
