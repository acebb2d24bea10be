package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusd/nexusd/pkg/runtime"
	"github.com/nexusd/nexusd/pkg/types"
	"github.com/nexusd/nexusd/pkg/volume"
)

type fakeDriver struct {
	mu        sync.Mutex
	running   map[string]bool
	provision map[string]runtime.ContainerSpec
	failStart bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		running:   make(map[string]bool),
		provision: make(map[string]runtime.ContainerSpec),
	}
}

func (f *fakeDriver) PullImage(ctx context.Context, imageRef string) error { return nil }

func (f *fakeDriver) Provision(ctx context.Context, spec runtime.ContainerSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provision[spec.TenantID] = spec
	return nil
}

func (f *fakeDriver) Start(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart {
		return assert.AnError
	}
	f.running[tenantID] = true
	return nil
}

func (f *fakeDriver) Stop(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[tenantID] = false
	return nil
}

func (f *fakeDriver) Restart(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[tenantID] = true
	return nil
}

func (f *fakeDriver) Delete(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, tenantID)
	delete(f.provision, tenantID)
	return nil
}

func (f *fakeDriver) GetStatus(ctx context.Context, tenantID string) (runtime.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[tenantID] {
		return runtime.StatusRunning, nil
	}
	return runtime.StatusStopped, nil
}

func (f *fakeDriver) IsRunning(ctx context.Context, tenantID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[tenantID]
}

func newTestWorker(t *testing.T) (*Worker, *fakeDriver) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	volMgr, err := volume.NewManager(filepath.Join(dir, "tenants"))
	require.NoError(t, err)

	drv := newFakeDriver()
	// forward and verifier are nil: these tests exercise lifecycle
	// transitions, not bridge forwarding or HTTP auth.
	w := New(store, drv, volMgr, nil, nil)
	return w, drv
}

func TestProvisionThenStartTransitionsToRunning(t *testing.T) {
	w, drv := newTestWorker(t)
	ctx := t.Context()

	err := w.Provision(ctx, "t_001", "example.com/nexus:latest", map[string]string{"FOO": "bar"})
	require.NoError(t, err)

	rt, err := w.state.Get("t_001")
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, string(types.TenantProvisioning), rt.ActualState)
	assert.Contains(t, drv.provision, "t_001")

	err = w.Start(ctx, "t_001", "")
	require.NoError(t, err)

	rt, err = w.state.Get("t_001")
	require.NoError(t, err)
	assert.Equal(t, string(types.TenantRunning), rt.ActualState)
	assert.True(t, drv.IsRunning(ctx, "t_001"))
}

func TestStartWithoutProvisionFails(t *testing.T) {
	w, _ := newTestWorker(t)
	err := w.Start(t.Context(), "t_missing", "")
	require.Error(t, err)
}

func TestStopTransitionsToPaused(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := t.Context()
	require.NoError(t, w.Provision(ctx, "t_001", "img", nil))
	require.NoError(t, w.Start(ctx, "t_001", ""))

	require.NoError(t, w.Stop(ctx, "t_001"))

	rt, err := w.state.Get("t_001")
	require.NoError(t, err)
	assert.Equal(t, string(types.TenantPaused), rt.ActualState)
}

func TestPairStartDiscardsSessionVolumeAndRecordsBaseline(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := t.Context()
	require.NoError(t, w.Provision(ctx, "t_001", "img", nil))
	require.NoError(t, w.Start(ctx, "t_001", ""))

	sessionPath := w.volumes.SessionPath("t_001")
	marker := filepath.Join(sessionPath, "stale-session-file")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0600))

	require.NoError(t, w.PairStart(ctx, "t_001", "", 42))

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr))

	rt, err := w.state.Get("t_001")
	require.NoError(t, err)
	assert.Equal(t, string(types.TenantPendingPairing), rt.ActualState)
	assert.Equal(t, uint64(42), rt.PairBaseline)
}

func TestDeleteRemovesStateAndVolumes(t *testing.T) {
	w, drv := newTestWorker(t)
	ctx := t.Context()
	require.NoError(t, w.Provision(ctx, "t_001", "img", nil))
	require.NoError(t, w.Start(ctx, "t_001", ""))

	require.NoError(t, w.Delete(ctx, "t_001"))

	rt, err := w.state.Get("t_001")
	require.NoError(t, err)
	assert.Nil(t, rt)
	assert.NotContains(t, drv.running, "t_001")

	_, statErr := os.Stat(w.volumes.SessionPath("t_001"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestHealthReportsNonexistentTenant(t *testing.T) {
	w, _ := newTestWorker(t)
	report, err := w.Health(t.Context(), "nope")
	require.NoError(t, err)
	assert.False(t, report.Exists)
}

func TestConcurrentTenantsDoNotBlockEachOther(t *testing.T) {
	w, _ := newTestWorker(t)
	ctx := t.Context()
	require.NoError(t, w.Provision(ctx, "t_a", "img", nil))
	require.NoError(t, w.Provision(ctx, "t_b", "img", nil))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = w.Start(ctx, "t_a", "") }()
	go func() { defer wg.Done(); _ = w.Start(ctx, "t_b", "") }()
	wg.Wait()

	rtA, _ := w.state.Get("t_a")
	rtB, _ := w.state.Get("t_b")
	assert.Equal(t, string(types.TenantRunning), rtA.ActualState)
	assert.Equal(t, string(types.TenantRunning), rtB.ActualState)
}
