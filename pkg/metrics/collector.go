package metrics

import (
	"time"

	"github.com/nexusd/nexusd/pkg/types"
)

// TenantLister is the slice of storage.Store the collector needs; kept
// narrow so it can be satisfied by a fake in tests.
type TenantLister interface {
	ListTenants() ([]*types.Tenant, error)
}

// Collector periodically samples store-derived gauges (tenants by state,
// user count) that aren't naturally updated on every write.
type Collector struct {
	store  TenantLister
	stopCh chan struct{}
}

// NewCollector creates a Collector over store.
func NewCollector(store TenantLister) *Collector {
	return &Collector{store: store, stopCh: make(chan struct{})}
}

// Start begins periodic collection, sampling immediately and then every
// 15 seconds until Stop is called.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	tenants, err := c.store.ListTenants()
	if err != nil {
		return
	}

	counts := make(map[types.TenantState]int)
	for _, t := range tenants {
		counts[t.ActualState]++
	}

	allStates := []types.TenantState{
		types.TenantProvisioning, types.TenantRunning, types.TenantPaused,
		types.TenantPendingPairing, types.TenantError, types.TenantDeleted,
	}
	for _, state := range allStates {
		TenantsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
