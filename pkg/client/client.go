// Package client provides the two HTTP clients that connect the control and
// worker planes: ActionClient (control calling the worker's signed-action
// surface) and BridgeForwarder (the worker forwarding bridge-produced events
// back to control's event ingestion endpoint).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexusd/nexusd/pkg/security"
)

// ActionClient dispatches signed actions from the control service to a
// worker's /internal surface.
type ActionClient struct {
	baseURL string
	signer  *security.ActionSigner
	http    *http.Client
}

// NewActionClient builds an ActionClient targeting baseURL (the worker's
// listen address), signing every request with signer.
func NewActionClient(baseURL string, signer *security.ActionSigner) *ActionClient {
	return &ActionClient{
		baseURL: baseURL,
		signer:  signer,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// StartRequest is the optional body accepted by start/restart/pair_start,
// letting the caller override the tenant's recorded image for one
// invocation.
type StartRequest struct {
	Image string `json:"nexus_image,omitempty"`
}

// ApplyConfigRequest carries the full rendered env for the revision being
// applied; the worker never reads the control plane's store directly.
type ApplyConfigRequest struct {
	Revision uint64            `json:"revision"`
	Env      map[string]string `json:"env"`
}

// PairStartRequest carries the event id baseline control observed just
// before dispatching pair_start, letting the worker guarantee the next
// whatsapp.qr event it emits has a strictly greater event id.
type PairStartRequest struct {
	Image         string `json:"nexus_image,omitempty"`
	EventBaseline uint64 `json:"event_baseline"`
}

// ProvisionRequest carries everything the worker needs to materialize a
// tenant's container for the first time.
type ProvisionRequest struct {
	Image string            `json:"nexus_image"`
	Env   map[string]string `json:"env"`
}

// HealthResponse is the worker's report for a single tenant.
type HealthResponse struct {
	Exists        bool      `json:"exists"`
	State         string    `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

const (
	ActionProvision          = "provision"
	ActionStart              = "start"
	ActionStop               = "stop"
	ActionRestart            = "restart"
	ActionPairStart          = "pair_start"
	ActionApplyConfig        = "apply_config"
	ActionWhatsappDisconnect = "whatsapp_disconnect"
	ActionHealth             = "health"
	ActionDelete             = "delete"
)

func (c *ActionClient) Provision(ctx context.Context, tenantID string, req ProvisionRequest) error {
	return c.do(ctx, tenantID, ActionProvision, "POST", "/internal/tenants/"+tenantID+"/provision", req, nil)
}

func (c *ActionClient) Start(ctx context.Context, tenantID string, req StartRequest) error {
	return c.do(ctx, tenantID, ActionStart, "POST", "/internal/tenants/"+tenantID+"/start", req, nil)
}

func (c *ActionClient) Stop(ctx context.Context, tenantID string) error {
	return c.do(ctx, tenantID, ActionStop, "POST", "/internal/tenants/"+tenantID+"/stop", nil, nil)
}

func (c *ActionClient) Restart(ctx context.Context, tenantID string, req StartRequest) error {
	return c.do(ctx, tenantID, ActionRestart, "POST", "/internal/tenants/"+tenantID+"/restart", req, nil)
}

func (c *ActionClient) ApplyConfig(ctx context.Context, tenantID string, req ApplyConfigRequest) error {
	return c.do(ctx, tenantID, ActionApplyConfig, "POST", "/internal/tenants/"+tenantID+"/apply_config", req, nil)
}

func (c *ActionClient) PairStart(ctx context.Context, tenantID string, req PairStartRequest) error {
	return c.do(ctx, tenantID, ActionPairStart, "POST", "/internal/tenants/"+tenantID+"/pair_start", req, nil)
}

func (c *ActionClient) WhatsappDisconnect(ctx context.Context, tenantID string) error {
	return c.do(ctx, tenantID, ActionWhatsappDisconnect, "POST", "/internal/tenants/"+tenantID+"/whatsapp_disconnect", nil, nil)
}

func (c *ActionClient) Delete(ctx context.Context, tenantID string) error {
	return c.do(ctx, tenantID, ActionDelete, "DELETE", "/internal/tenants/"+tenantID, nil, nil)
}

func (c *ActionClient) Health(ctx context.Context, tenantID string) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, tenantID, ActionHealth, "GET", "/internal/tenants/"+tenantID+"/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ActionClient) do(ctx context.Context, tenantID, action, method, path string, body, out interface{}) error {
	token, err := c.signer.Sign(tenantID, action)
	if err != nil {
		return fmt.Errorf("sign action token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("worker returned %d: %s", resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode worker response: %w", err)
		}
	}
	return nil
}

// BridgeForwarder lets the worker push a bridge-produced event back to
// control's durable store and bus. Control is the sole writer of the event
// log; the worker never appends directly.
type BridgeForwarder struct {
	controlBaseURL string
	bridgeToken    string
	http           *http.Client
}

// NewBridgeForwarder builds a BridgeForwarder targeting the control
// service's base URL, authenticating with the shared bridge key.
func NewBridgeForwarder(controlBaseURL string, bridgeKey []byte) *BridgeForwarder {
	return &BridgeForwarder{
		controlBaseURL: controlBaseURL,
		bridgeToken:    security.BridgeToken(bridgeKey),
		http:           &http.Client{Timeout: 10 * time.Second},
	}
}

// ForwardEventRequest is the wire body posted to control's ingestion route.
type ForwardEventRequest struct {
	TenantID string          `json:"tenant_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// Forward sends one bridge event to control for durable append and fanout.
func (f *BridgeForwarder) Forward(ctx context.Context, tenantID, eventType string, payload json.RawMessage) error {
	raw, err := json.Marshal(ForwardEventRequest{TenantID: tenantID, Type: eventType, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal bridge event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.controlBaseURL+"/internal/events", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build bridge forward request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.bridgeToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("forward bridge event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("control rejected bridge event (%d): %s", resp.StatusCode, string(msg))
	}
	return nil
}
