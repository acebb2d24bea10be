package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/worker"
)

type fakeWorker struct {
	mu      sync.Mutex
	tenants []*worker.TenantRuntime
	calls   int
}

func (f *fakeWorker) ListLocalTenants() ([]*worker.TenantRuntime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenants, nil
}

func (f *fakeWorker) ReconcileOne(ctx context.Context, rt *worker.TenantRuntime) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	before := rt.ActualState
	if rt.DesiredState == "running" && rt.ActualState != "running" {
		rt.ActualState = "running"
		return before, "running", nil
	}
	return before, before, nil
}

func TestReconcileEmitsDriftOnTransition(t *testing.T) {
	fw := &fakeWorker{
		tenants: []*worker.TenantRuntime{
			{TenantID: "t_001", DesiredState: "running", ActualState: "paused"},
		},
	}
	r := New(fw, nil, time.Hour)

	err := r.reconcile(false)
	require.NoError(t, err)
	assert.Equal(t, 1, fw.calls)
	assert.Equal(t, "running", fw.tenants[0].ActualState)
}

func TestReconcileSkipsTenantsAlreadyConverged(t *testing.T) {
	fw := &fakeWorker{
		tenants: []*worker.TenantRuntime{
			{TenantID: "t_001", DesiredState: "paused", ActualState: "paused"},
		},
	}
	r := New(fw, nil, time.Hour)

	err := r.reconcile(false)
	require.NoError(t, err)
	assert.Equal(t, "paused", fw.tenants[0].ActualState)
}

func TestStartStopDoesNotPanic(t *testing.T) {
	fw := &fakeWorker{}
	r := New(fw, nil, 10*time.Millisecond)
	r.Start()
	time.Sleep(25 * time.Millisecond)
	r.Stop()
}

func TestStartupPassEmitsStatusForConvergedTenant(t *testing.T) {
	fw := &fakeWorker{
		tenants: []*worker.TenantRuntime{
			{TenantID: "t_001", DesiredState: "running", ActualState: "running"},
		},
	}

	var requests []client.ForwardEventRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.ForwardEventRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	forward := client.NewBridgeForwarder(srv.URL, []byte("a-sufficiently-long-shared-bridge-key-value"))
	r := New(fw, forward, time.Hour)

	require.NoError(t, r.reconcile(true))

	require.Len(t, requests, 1, "a converged tenant must still get a status event on the startup pass")
	assert.Equal(t, "t_001", requests[0].TenantID)
	assert.Equal(t, "runtime.status", requests[0].Type)
}

func TestNonStartupPassSkipsConvergedTenant(t *testing.T) {
	fw := &fakeWorker{
		tenants: []*worker.TenantRuntime{
			{TenantID: "t_001", DesiredState: "running", ActualState: "running"},
		},
	}

	var requests []client.ForwardEventRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req client.ForwardEventRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests = append(requests, req)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	forward := client.NewBridgeForwarder(srv.URL, []byte("a-sufficiently-long-shared-bridge-key-value"))
	r := New(fw, forward, time.Hour)

	require.NoError(t, r.reconcile(false))

	assert.Empty(t, requests, "a non-startup pass must not re-emit status for an already-converged tenant")
}
