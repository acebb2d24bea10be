package worker

import (
	"context"
	"fmt"

	"github.com/nexusd/nexusd/pkg/types"
)

// ListLocalTenants returns every tenant runtime record this worker knows
// about, for pkg/reconciler to walk.
func (w *Worker) ListLocalTenants() ([]*TenantRuntime, error) {
	return w.state.List()
}

// ReconcileOne compares rt's desired state to what the container engine
// actually reports, re-attaches bridge ingestion for tenants that should be
// running but aren't observed as such, and returns the before/after actual
// state so the caller can report drift.
func (w *Worker) ReconcileOne(ctx context.Context, rt *TenantRuntime) (before, after string, err error) {
	lock := w.lockFor(rt.TenantID)
	lock.Lock()
	defer lock.Unlock()

	before = rt.ActualState

	status, statusErr := w.runtime.GetStatus(ctx, rt.TenantID)
	if statusErr != nil {
		return before, before, fmt.Errorf("get container status: %w", statusErr)
	}
	observed := engineStatusToTenantState(status, rt.DesiredState)

	switch {
	case rt.DesiredState == string(types.TenantRunning) || rt.DesiredState == string(types.TenantPendingPairing):
		if observed != string(types.TenantRunning) && observed != string(types.TenantPendingPairing) {
			if startErr := w.runtime.Start(ctx, rt.TenantID); startErr != nil {
				_, _ = w.record(rt.TenantID, func(r *TenantRuntime) {
					r.ActualState = string(types.TenantError)
					r.LastError = startErr.Error()
				})
				return before, string(types.TenantError), nil
			}
			observed = rt.DesiredState
		}
		w.startBridge(rt.TenantID)
	default:
		w.stopBridge(rt.TenantID)
	}

	if observed == before {
		return before, before, nil
	}

	updated, recordErr := w.record(rt.TenantID, func(r *TenantRuntime) {
		r.ActualState = observed
	})
	if recordErr != nil {
		return before, before, recordErr
	}
	return before, updated.ActualState, nil
}
