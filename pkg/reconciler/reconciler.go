// Package reconciler periodically reconciles the worker's local tenant set
// against what the container engine actually reports, re-attaching bridge
// ingestion for tenants that should be running and reporting drift.
package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/log"
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/worker"
)

// Worker is the slice of *worker.Worker the reconciler needs.
type Worker interface {
	ListLocalTenants() ([]*worker.TenantRuntime, error)
	ReconcileOne(ctx context.Context, rt *worker.TenantRuntime) (before, after string, err error)
}

// Reconciler walks the worker's local tenant set on a fixed interval and
// emits one runtime.status event per tenant whose observed state changed.
// The first pass after Start, regardless of interval, emits a status event
// for every tenant even when nothing drifted, so a restarted worker process
// re-announces the tenants it found still running instead of going silent
// until the next real transition.
type Reconciler struct {
	worker   Worker
	forward  *client.BridgeForwarder
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Reconciler. forward may be nil, in which case drift is still
// corrected locally but no event is emitted upstream.
func New(w Worker, forward *client.BridgeForwarder, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		worker:   w,
		forward:  forward,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconciliation loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop halts the reconciliation loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	r.logger.Info().Msg("reconciler started")

	// The startup pass reports the observed state of every tenant even when
	// it matches what's already recorded, so a restarted worker re-announces
	// "running" rather than going quiet until the next drift.
	if err := r.reconcile(true); err != nil {
		r.logger.Error().Err(err).Msg("startup reconciliation cycle failed")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.reconcile(false); err != nil {
				r.logger.Error().Err(err).Msg("reconciliation cycle failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile(startup bool) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	tenants, err := r.worker.ListLocalTenants()
	if err != nil {
		return fmt.Errorf("list local tenants: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	for _, rt := range tenants {
		before, after, err := r.worker.ReconcileOne(ctx, rt)
		if err != nil {
			r.logger.Error().Err(err).Str("tenant_id", rt.TenantID).Msg("failed to reconcile tenant")
			continue
		}
		drifted := before != after
		if drifted {
			metrics.ReconcileDriftTotal.WithLabelValues(before, after).Inc()
			r.logger.Info().
				Str("tenant_id", rt.TenantID).
				Str("from", before).
				Str("to", after).
				Msg("tenant state reconciled")
		}
		if !drifted && !startup {
			continue
		}
		r.emitStatus(ctx, rt.TenantID, after)
	}
	return nil
}

func (r *Reconciler) emitStatus(ctx context.Context, tenantID, state string) {
	if r.forward == nil {
		return
	}
	raw, err := json.Marshal(bus.RuntimeStatusPayload{State: state})
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal runtime status payload")
		return
	}
	if err := r.forward.Forward(ctx, tenantID, string(bus.EventRuntimeStatus), raw); err != nil {
		r.logger.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to forward reconciled status")
	}
}
