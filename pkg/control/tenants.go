package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/types"
)

// withTimeout bounds a worker or bootstrap call to actionTimeout, derived
// from the inbound request's context so a client disconnect still cancels
// it.
func withTimeout(req *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(req.Context(), actionTimeout)
}

// requireOwnedTenant loads the tenant named by the request's {id} path
// variable and enforces that it belongs to the session's user. Any request
// to another user's tenant fails with 403 regardless of which sub-resource
// was requested.
func (c *Control) requireOwnedTenant(resp http.ResponseWriter, req *http.Request) *types.Tenant {
	claims := sessionFromContext(req.Context())
	if claims == nil {
		writeError(resp, http.StatusUnauthorized, "missing_session", nil)
		return nil
	}
	tenantID := mux.Vars(req)["id"]
	tenant, err := c.store.GetTenant(tenantID)
	if err != nil || tenant == nil {
		writeError(resp, http.StatusNotFound, "tenant_not_found", nil)
		return nil
	}
	if tenant.OwnerUserID != claims.UserID {
		writeError(resp, http.StatusForbidden, "forbidden", nil)
		return nil
	}
	return tenant
}

type setupRequest struct {
	InitialConfig map[string]string `json:"initial_config"`
}

// HandleTenantSetup creates the caller's tenant, rejecting a second tenant
// for the same user with a 409 naming the existing tenant id.
func (c *Control) HandleTenantSetup(resp http.ResponseWriter, req *http.Request) {
	claims := sessionFromContext(req.Context())
	if claims == nil {
		writeError(resp, http.StatusUnauthorized, "missing_session", nil)
		return
	}

	if existing, err := c.store.GetTenantByOwner(claims.UserID); err == nil && existing != nil {
		writeConflict(resp, map[string]string{"tenant_id": existing.ID})
		return
	}

	var body setupRequest
	_ = json.NewDecoder(req.Body).Decode(&body)

	if _, ok := validateConfigKeys(body.InitialConfig); !ok {
		writeValidationError(resp, "malformed_config_key")
		return
	}

	if err := checkTransition("", opProvision); err != nil {
		writeInternalError(resp, err)
		return
	}

	tenant := &types.Tenant{
		ID:           uuid.New().String(),
		OwnerUserID:  claims.UserID,
		CreatedAt:    time.Now(),
		DesiredState: types.TenantProvisioning,
		ActualState:  types.TenantProvisioning,
	}
	if err := c.store.CreateTenant(tenant); err != nil {
		writeInternalError(resp, err)
		return
	}

	sealed, err := c.secrets.EncryptEnv(body.InitialConfig)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	if _, err := c.store.CreateConfigRevision(&types.ConfigRevision{TenantID: tenant.ID, Env: sealed, CreatedAt: time.Now()}); err != nil {
		writeInternalError(resp, err)
		return
	}

	ac, err := c.actionClientFor(tenant.ID)
	if err != nil {
		writeError(resp, http.StatusServiceUnavailable, "service_unavailable", nil)
		return
	}
	ctx, cancel := withTimeout(req)
	defer cancel()
	if err := ac.Provision(ctx, tenant.ID, client.ProvisionRequest{Env: body.InitialConfig}); err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("provision failed")
		writeError(resp, http.StatusServiceUnavailable, "service_unavailable", nil)
		return
	}

	writeJSON(resp, http.StatusCreated, map[string]string{"id": tenant.ID})
}

type bootstrapReport struct {
	DefaultsApplied bool `json:"defaults_applied"`
	Restarted       bool `json:"restarted"`
}

type statusResponse struct {
	TenantID           string           `json:"tenant_id"`
	DesiredState       string           `json:"desired_state"`
	ActualState        string           `json:"actual_state"`
	LastHeartbeat      *time.Time       `json:"last_heartbeat,omitempty"`
	LastError          string           `json:"last_error,omitempty"`
	UptimeSeconds      *float64         `json:"uptime,omitempty"`
	AssistantBootstrap *bootstrapReport `json:"assistant_bootstrap,omitempty"`
}

// HandleTenantStatus reports the tenant's lifecycle state and triggers the
// one-time assistant bootstrap the first time status is observed running.
func (c *Control) HandleTenantStatus(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}

	var report *bootstrapReport
	if tenant.ActualState == types.TenantRunning && !tenant.BootstrapApplied {
		applied, err := c.applyBootstrap(tenant)
		if err != nil {
			c.logger.Warn().Err(err).Str("tenant_id", tenant.ID).Msg("assistant bootstrap failed")
		} else {
			report = &bootstrapReport{DefaultsApplied: applied, Restarted: false}
		}
	}

	out := statusResponse{
		TenantID:           tenant.ID,
		DesiredState:       string(tenant.DesiredState),
		ActualState:        string(tenant.ActualState),
		LastError:          tenant.LastError,
		AssistantBootstrap: report,
	}
	if !tenant.LastHeartbeat.IsZero() {
		out.LastHeartbeat = &tenant.LastHeartbeat
		uptime := time.Since(tenant.LastHeartbeat).Seconds()
		out.UptimeSeconds = &uptime
	}
	writeJSON(resp, http.StatusOK, out)
}

// runtimeOpenRouterKey is the config key whose presence start/restart/
// pair_start require before contacting the worker.
const runtimeOpenRouterKey = "NEXUS_OPENROUTER_API_KEY"

func (c *Control) requireOpenRouterKey(resp http.ResponseWriter, tenantID string) bool {
	rev, err := c.store.GetActiveConfigRevision(tenantID)
	if err != nil || rev == nil {
		writePreconditionError(resp, "openrouter_api_key_required")
		return false
	}
	if _, ok := rev.Env[runtimeOpenRouterKey]; !ok {
		writePreconditionError(resp, "openrouter_api_key_required")
		return false
	}
	return true
}

// transition validates op against the tenant's current desired state,
// persists the new desired state, and reports a validation error on the
// response if the transition is illegal.
func (c *Control) transition(resp http.ResponseWriter, tenant *types.Tenant, op tenantOp, next types.TenantState) bool {
	if err := checkTransition(string(tenant.DesiredState), op); err != nil {
		writeValidationError(resp, "invalid_transition")
		return false
	}
	tenant.DesiredState = next
	if err := c.store.UpdateTenant(tenant); err != nil {
		writeInternalError(resp, err)
		return false
	}
	return true
}

// HandleRuntimeStart validates the required config key, transitions
// desired_state, and dispatches start to the worker.
func (c *Control) HandleRuntimeStart(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	if !c.requireOpenRouterKey(resp, tenant.ID) {
		return
	}
	if !c.transition(resp, tenant, opStart, types.TenantRunning) {
		return
	}
	c.dispatchAction(resp, req, tenant, opStart, func(ctx context.Context, ac *client.ActionClient) error {
		return ac.Start(ctx, tenant.ID, client.StartRequest{})
	})
}

// HandleRuntimeStop dispatches stop to the worker.
func (c *Control) HandleRuntimeStop(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	if !c.transition(resp, tenant, opStop, types.TenantPaused) {
		return
	}
	c.dispatchAction(resp, req, tenant, opStop, func(ctx context.Context, ac *client.ActionClient) error {
		return ac.Stop(ctx, tenant.ID)
	})
}

// HandleRuntimeRestart dispatches restart to the worker.
func (c *Control) HandleRuntimeRestart(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	if !c.requireOpenRouterKey(resp, tenant.ID) {
		return
	}
	if !c.transition(resp, tenant, opRestart, types.TenantRunning) {
		return
	}
	c.dispatchAction(resp, req, tenant, opRestart, func(ctx context.Context, ac *client.ActionClient) error {
		return ac.Restart(ctx, tenant.ID, client.StartRequest{})
	})
}

// HandlePairStart captures the latest event id as the freshness baseline,
// transitions the tenant to pending_pairing, and dispatches pair_start with
// that baseline so the worker can guarantee the next whatsapp.qr event it
// emits strictly exceeds it.
func (c *Control) HandlePairStart(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	if !c.requireOpenRouterKey(resp, tenant.ID) {
		return
	}
	baseline := c.latestEventID(tenant.ID)
	if !c.transition(resp, tenant, opPairStart, types.TenantPendingPairing) {
		return
	}
	c.dispatchAction(resp, req, tenant, opPairStart, func(ctx context.Context, ac *client.ActionClient) error {
		return ac.PairStart(ctx, tenant.ID, client.PairStartRequest{EventBaseline: baseline})
	})
}

func (c *Control) latestEventID(tenantID string) uint64 {
	recent, err := c.store.ListRecentEvents(tenantID, 1)
	if err != nil || len(recent) == 0 {
		return 0
	}
	return recent[len(recent)-1].EventID
}

// HandleWhatsappDisconnect dispatches whatsapp_disconnect to the worker,
// which restarts the tenant into pending_pairing.
func (c *Control) HandleWhatsappDisconnect(resp http.ResponseWriter, req *http.Request) {
	tenant := c.requireOwnedTenant(resp, req)
	if tenant == nil {
		return
	}
	if !c.transition(resp, tenant, opDisconnect, types.TenantPendingPairing) {
		return
	}
	c.dispatchAction(resp, req, tenant, opDisconnect, func(ctx context.Context, ac *client.ActionClient) error {
		return ac.WhatsappDisconnect(ctx, tenant.ID)
	})
}

// dispatchAction calls the worker for a mutating action. On failure it
// leaves the tenant's persisted desired_state as already updated by
// transition, so the worker's own reconciler or a later retry converges it;
// the failure is surfaced to the caller rather than silently retried here.
func (c *Control) dispatchAction(resp http.ResponseWriter, req *http.Request, tenant *types.Tenant, op tenantOp, call func(context.Context, *client.ActionClient) error) {
	ac, err := c.actionClientFor(tenant.ID)
	if err != nil {
		writeError(resp, http.StatusServiceUnavailable, "service_unavailable", nil)
		return
	}
	ctx, cancel := withTimeout(req)
	defer cancel()
	if err := call(ctx, ac); err != nil {
		c.logger.Warn().Err(err).Str("tenant_id", tenant.ID).Str("action", string(op)).Msg("worker action failed")
		writeError(resp, http.StatusServiceUnavailable, "service_unavailable", nil)
		return
	}
	resp.WriteHeader(http.StatusAccepted)
}
