package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/compose"
	"github.com/nexusd/nexusd/pkg/health"
	"github.com/nexusd/nexusd/pkg/log"
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/runtime"
	"github.com/nexusd/nexusd/pkg/security"
	"github.com/nexusd/nexusd/pkg/types"
	"github.com/nexusd/nexusd/pkg/volume"
)

// driver is the slice of *runtime.Runtime the worker needs; narrowed to an
// interface so tests can fake the container engine.
type driver interface {
	PullImage(ctx context.Context, imageRef string) error
	Provision(ctx context.Context, spec runtime.ContainerSpec) error
	Start(ctx context.Context, tenantID string) error
	Stop(ctx context.Context, tenantID string) error
	Restart(ctx context.Context, tenantID string) error
	Delete(ctx context.Context, tenantID string) error
	GetStatus(ctx context.Context, tenantID string) (runtime.Status, error)
	IsRunning(ctx context.Context, tenantID string) bool
}

// Worker is the worker plane: it receives signed actions from control,
// drives the container engine through the topology described by pkg/compose,
// and forwards bridge-produced events back to control via pkg/client.
type Worker struct {
	state    *Store
	runtime  driver
	volumes  *volume.Manager
	forward  *client.BridgeForwarder
	verifier *security.ActionSigner
	logger   zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	bridgeMu sync.Mutex
	bridges  map[string]context.CancelFunc
}

// New builds a Worker. forward may be nil in tests that don't exercise
// bridge ingestion.
func New(state *Store, rt driver, volumes *volume.Manager, forward *client.BridgeForwarder, verifier *security.ActionSigner) *Worker {
	return &Worker{
		state:    state,
		runtime:  rt,
		volumes:  volumes,
		forward:  forward,
		verifier: verifier,
		logger:   log.WithComponent("worker"),
		locks:    make(map[string]*sync.Mutex),
		bridges:  make(map[string]context.CancelFunc),
	}
}

// lockFor returns the per-tenant mutex, creating it on first use, so
// unrelated tenants' lifecycle calls never block on each other.
func (w *Worker) lockFor(tenantID string) *sync.Mutex {
	w.locksMu.Lock()
	defer w.locksMu.Unlock()
	l, ok := w.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		w.locks[tenantID] = l
	}
	return l
}

func (w *Worker) record(tenantID string, mutate func(rt *TenantRuntime)) (*TenantRuntime, error) {
	rt, err := w.state.Get(tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant runtime: %w", err)
	}
	if rt == nil {
		rt = &TenantRuntime{TenantID: tenantID}
	}
	mutate(rt)
	rt.LastHeartbeat = time.Now()
	if err := w.state.Put(rt); err != nil {
		return nil, fmt.Errorf("persist tenant runtime: %w", err)
	}
	return rt, nil
}

// Provision materializes the tenant's container from a rendered compose
// topology and the decrypted env it was handed.
func (w *Worker) Provision(ctx context.Context, tenantID, image string, env map[string]string) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	sessionPath, statePath, err := w.volumes.EnsureTenant(tenantID)
	if err != nil {
		return fmt.Errorf("ensure tenant volumes: %w", err)
	}

	topo, err := compose.Render(compose.DefaultTemplate, compose.Vars{
		TenantID:          tenantID,
		Image:             image,
		EnvFilePath:       w.volumes.EnvFilePath(tenantID),
		SessionVolumePath: sessionPath,
		StateVolumePath:   statePath,
	})
	if err != nil {
		return fmt.Errorf("render topology: %w", err)
	}
	_, svc, err := topo.PrimaryService()
	if err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}

	if err := writeEnvFile(w.volumes.EnvFilePath(tenantID), env); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	if err := w.runtime.PullImage(ctx, svc.Image); err != nil {
		return fmt.Errorf("pull image: %w", err)
	}

	spec := runtime.ContainerSpec{
		TenantID: tenantID,
		Image:    svc.Image,
		Env:      env,
		Mounts: []runtime.Mount{
			{Source: sessionPath, Destination: "/data/session"},
			{Source: statePath, Destination: "/data/state"},
		},
	}
	if err := w.runtime.Provision(ctx, spec); err != nil {
		return fmt.Errorf("provision container: %w", err)
	}

	_, err = w.record(tenantID, func(rt *TenantRuntime) {
		rt.DesiredState = string(types.TenantProvisioning)
		rt.ActualState = string(types.TenantProvisioning)
		rt.Image = svc.Image
	})
	return err
}

// Start ensures the tenant's container runs with image (falling back to the
// tenant's last recorded image), emitting runtime.status on transition.
func (w *Worker) Start(ctx context.Context, tenantID, imageOverride string) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return w.startLocked(ctx, tenantID, imageOverride, types.TenantRunning)
}

func (w *Worker) startLocked(ctx context.Context, tenantID, imageOverride string, desired types.TenantState) error {
	rt, err := w.state.Get(tenantID)
	if err != nil {
		return fmt.Errorf("load tenant runtime: %w", err)
	}
	if rt == nil {
		return fmt.Errorf("tenant %s not provisioned", tenantID)
	}
	prevState := rt.ActualState

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStartDuration)

	if imageOverride != "" && imageOverride != rt.Image {
		// A successful start records the override as the tenant's image.
		if err := w.runtime.Delete(ctx, tenantID); err != nil {
			return fmt.Errorf("delete before re-provision: %w", err)
		}
		// Caller is expected to have already re-Provisioned with the new
		// image before calling Start with an override; nothing further to
		// do here besides recording it.
	}

	if !w.runtime.IsRunning(ctx, tenantID) {
		if err := w.runtime.Start(ctx, tenantID); err != nil {
			_, _ = w.record(tenantID, func(rt *TenantRuntime) {
				rt.ActualState = string(types.TenantError)
				rt.LastError = err.Error()
			})
			return fmt.Errorf("start container: %w", err)
		}
	}

	w.startBridge(tenantID)

	_, err = w.record(tenantID, func(rt *TenantRuntime) {
		rt.DesiredState = string(desired)
		rt.ActualState = string(desired)
		rt.LastError = ""
		if imageOverride != "" {
			rt.Image = imageOverride
		}
	})
	if err != nil {
		return err
	}
	if w.forward != nil && prevState != string(desired) {
		if raw, mErr := json.Marshal(bus.RuntimeStatusPayload{State: string(desired)}); mErr == nil {
			if fErr := w.forward.Forward(ctx, tenantID, string(bus.EventRuntimeStatus), raw); fErr != nil {
				w.logger.Warn().Err(fErr).Str("tenant_id", tenantID).Msg("failed to forward runtime status")
			}
		}
	}
	return nil
}

// Stop transitions the tenant to paused; volumes are retained.
func (w *Worker) Stop(ctx context.Context, tenantID string) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStopDuration)

	w.stopBridge(tenantID)
	if err := w.runtime.Stop(ctx, tenantID); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}

	_, err := w.record(tenantID, func(rt *TenantRuntime) {
		rt.DesiredState = string(types.TenantPaused)
		rt.ActualState = string(types.TenantPaused)
	})
	return err
}

// Restart stops then starts the tenant, used after a config/image change.
func (w *Worker) Restart(ctx context.Context, tenantID, imageOverride string) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	w.stopBridge(tenantID)
	if err := w.runtime.Restart(ctx, tenantID); err != nil {
		_, _ = w.record(tenantID, func(rt *TenantRuntime) {
			rt.ActualState = string(types.TenantError)
			rt.LastError = err.Error()
		})
		return fmt.Errorf("restart container: %w", err)
	}
	w.startBridge(tenantID)

	_, err := w.record(tenantID, func(rt *TenantRuntime) {
		rt.DesiredState = string(types.TenantRunning)
		rt.ActualState = string(types.TenantRunning)
		rt.LastError = ""
		if imageOverride != "" {
			rt.Image = imageOverride
		}
	})
	return err
}

// ApplyConfig rewrites the tenant's env file and, if running, restarts it.
func (w *Worker) ApplyConfig(ctx context.Context, tenantID string, revision uint64, env map[string]string) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if err := writeEnvFile(w.volumes.EnvFilePath(tenantID), env); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	rt, err := w.state.Get(tenantID)
	if err != nil {
		return fmt.Errorf("load tenant runtime: %w", err)
	}
	if rt != nil && rt.ActualState == string(types.TenantRunning) {
		w.stopBridge(tenantID)
		if err := w.runtime.Restart(ctx, tenantID); err != nil {
			return fmt.Errorf("restart after config apply: %w", err)
		}
		w.startBridge(tenantID)
	}

	_, err = w.record(tenantID, func(rt *TenantRuntime) {
		if rt.ActualState == "" {
			rt.ActualState = string(types.TenantProvisioning)
		}
	})
	return err
}

// PairStart guarantees a fresh pairing attempt: it records the event-id
// baseline the caller supplies (the control plane's latest known event id at
// acceptance time), discards the session volume, and restarts into
// pending_pairing so the bridge is forced to regenerate a QR.
func (w *Worker) PairStart(ctx context.Context, tenantID, imageOverride string, baseline uint64) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	w.stopBridge(tenantID)
	if err := w.runtime.Stop(ctx, tenantID); err != nil {
		return fmt.Errorf("stop before pair_start: %w", err)
	}
	if err := w.volumes.DeleteTenant(tenantID); err != nil {
		return fmt.Errorf("discard session volume: %w", err)
	}
	if _, _, err := w.volumes.EnsureTenant(tenantID); err != nil {
		return fmt.Errorf("recreate volumes: %w", err)
	}

	if err := w.runtime.Start(ctx, tenantID); err != nil {
		return fmt.Errorf("start into pending_pairing: %w", err)
	}
	w.startBridge(tenantID)

	_, err := w.record(tenantID, func(rt *TenantRuntime) {
		rt.DesiredState = string(types.TenantPendingPairing)
		rt.ActualState = string(types.TenantPendingPairing)
		rt.PairBaseline = baseline
		rt.LastError = ""
		if imageOverride != "" {
			rt.Image = imageOverride
		}
	})
	return err
}

// WhatsappDisconnect drops the tenant's pairing. It is implemented as a
// restart into pending_pairing, reusing PairStart's freshness guarantee,
// rather than a direct transition to paused.
func (w *Worker) WhatsappDisconnect(ctx context.Context, tenantID string) error {
	rt, err := w.state.Get(tenantID)
	if err != nil {
		return fmt.Errorf("load tenant runtime: %w", err)
	}
	baseline := uint64(0)
	if rt != nil {
		baseline = rt.PairBaseline
	}
	return w.PairStart(ctx, tenantID, "", baseline)
}

// Delete stops the container and removes it and both volumes.
func (w *Worker) Delete(ctx context.Context, tenantID string) error {
	lock := w.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	w.stopBridge(tenantID)
	if err := w.runtime.Delete(ctx, tenantID); err != nil {
		return fmt.Errorf("delete container: %w", err)
	}
	if err := w.volumes.DeleteTenant(tenantID); err != nil {
		return fmt.Errorf("delete volumes: %w", err)
	}
	return w.state.Delete(tenantID)
}

// HealthReport answers the driver's Health(tenant) operation.
type HealthReport struct {
	Exists        bool
	State         string
	LastHeartbeat time.Time
	LastError     string
}

// Health reports the tenant's observed state, reconciling against the
// engine's own view rather than trusting the in-memory record alone.
func (w *Worker) Health(ctx context.Context, tenantID string) (HealthReport, error) {
	rt, err := w.state.Get(tenantID)
	if err != nil {
		return HealthReport{}, fmt.Errorf("load tenant runtime: %w", err)
	}
	if rt == nil {
		return HealthReport{Exists: false}, nil
	}

	status, err := w.runtime.GetStatus(ctx, tenantID)
	if err == nil {
		rt.ActualState = engineStatusToTenantState(status, rt.DesiredState)
	}
	if status == runtime.StatusRunning {
		if result := w.probeBridgeHealth(ctx, tenantID); result.Healthy {
			rt.LastHeartbeat = time.Now()
		} else if result.Message != "" {
			rt.LastError = result.Message
		}
	}

	return HealthReport{
		Exists:        true,
		State:         rt.ActualState,
		LastHeartbeat: rt.LastHeartbeat,
		LastError:     rt.LastError,
	}, nil
}

func engineStatusToTenantState(status runtime.Status, desired string) string {
	switch status {
	case runtime.StatusRunning:
		if desired == string(types.TenantPendingPairing) {
			return string(types.TenantPendingPairing)
		}
		return string(types.TenantRunning)
	case runtime.StatusStopped:
		return string(types.TenantPaused)
	case runtime.StatusFailed:
		return string(types.TenantError)
	default:
		return string(types.TenantError)
	}
}

// probeBridgeHealth runs an HTTP health probe against the tenant's bridge
// ingress, dialed over the same Unix socket bridge events arrive on
// (pkg/health, adapted from pkg/health/http.go). Used to fold a liveness
// signal into last_heartbeat beyond "the containerd task is running".
func (w *Worker) probeBridgeHealth(ctx context.Context, tenantID string) health.Result {
	socketPath := filepath.Join(w.volumes.StatePath(tenantID), bridgeSocketName)
	checker := health.NewHTTPChecker("http://bridge/health")
	checker.Client = &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}
	return checker.Check(ctx)
}
