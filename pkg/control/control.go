// Package control implements the control plane: user/tenant lifecycle,
// config/prompt/skill revisions, and the HTTP surface the web client and
// the worker both speak to. It holds the durable store and event bus and
// is the only process that writes the event log (pkg/worker never reads
// or writes it directly).
package control

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/log"
	"github.com/nexusd/nexusd/pkg/security"
	"github.com/nexusd/nexusd/pkg/storage"
)

// WorkerLocator resolves a tenant id to the base URL of the worker
// currently hosting it. A single-worker deployment can return a constant.
type WorkerLocator interface {
	WorkerFor(tenantID string) (baseURL string, err error)
}

// staticLocator implements WorkerLocator for the common single-worker
// deployment; cross-worker scheduling is out of scope.
type staticLocator string

func (s staticLocator) WorkerFor(string) (string, error) { return string(s), nil }

// StaticWorker builds a WorkerLocator that always resolves to baseURL.
func StaticWorker(baseURL string) WorkerLocator { return staticLocator(baseURL) }

// Control wires together the store, bus, session/action signing, and the
// worker-facing action client into the handlers registered by Routes.
type Control struct {
	store    storage.Store
	bus      *bus.Broker
	sessions *security.SessionIssuer
	secrets  *security.SecretsManager
	signer   *security.ActionSigner
	worker   WorkerLocator
	bridgeKey []byte
	logger   zerolog.Logger
}

// Config holds the dependencies New needs.
type Config struct {
	Store     storage.Store
	Bus       *bus.Broker
	Sessions  *security.SessionIssuer
	Secrets   *security.SecretsManager
	Signer    *security.ActionSigner
	Worker    WorkerLocator
	BridgeKey []byte
}

// New builds a Control.
func New(cfg Config) *Control {
	return &Control{
		store:     cfg.Store,
		bus:       cfg.Bus,
		sessions:  cfg.Sessions,
		secrets:   cfg.Secrets,
		signer:    cfg.Signer,
		worker:    cfg.Worker,
		bridgeKey: cfg.BridgeKey,
		logger:    log.WithComponent("control"),
	}
}

func (c *Control) actionClientFor(tenantID string) (*client.ActionClient, error) {
	baseURL, err := c.worker.WorkerFor(tenantID)
	if err != nil {
		return nil, err
	}
	return client.NewActionClient(baseURL, c.signer), nil
}

const actionTimeout = 30 * time.Second
