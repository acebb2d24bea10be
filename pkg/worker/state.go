package worker

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// TenantRuntime is the worker's local record of one tenant's container
// lifecycle, independent of control's durable Tenant record — the worker
// never reads control's store directly and keeps its own view of desired
// and actual state.
type TenantRuntime struct {
	TenantID      string    `json:"tenant_id"`
	DesiredState  string    `json:"desired_state"`
	ActualState   string    `json:"actual_state"`
	Image         string    `json:"image"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LastError     string    `json:"last_error,omitempty"`
	// PairBaseline is the event id recorded at the moment pair_start was
	// accepted; whatsapp.qr events with id <= this are stale.
	PairBaseline uint64 `json:"pair_baseline"`
}

var bucketTenantRuntime = []byte("tenant_runtime")

// Store is the worker's local bbolt-backed tenant state, separate from
// control's pkg/storage.Store in both schema and file.
type Store struct {
	db *bolt.DB
}

// NewStore opens (creating if necessary) the worker state file under
// dataDir.
func NewStore(dataDir string) (*Store, error) {
	db, err := bolt.Open(dataDir+"/worker.db", 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open worker state: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTenantRuntime)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create worker state buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the tenant's runtime record, or (nil, nil) if none exists yet.
func (s *Store) Get(tenantID string) (*TenantRuntime, error) {
	var rt *TenantRuntime
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTenantRuntime).Get([]byte(tenantID))
		if raw == nil {
			return nil
		}
		rt = &TenantRuntime{}
		return json.Unmarshal(raw, rt)
	})
	return rt, err
}

// Put persists rt, keyed by its TenantID.
func (s *Store) Put(rt *TenantRuntime) error {
	raw, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("marshal tenant runtime: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenantRuntime).Put([]byte(rt.TenantID), raw)
	})
}

// Delete removes tenantID's runtime record.
func (s *Store) Delete(tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenantRuntime).Delete([]byte(tenantID))
	})
}

// List returns every tenant runtime record known locally, used by the
// reconciler to walk the worker's tenant set on startup.
func (s *Store) List() ([]*TenantRuntime, error) {
	var out []*TenantRuntime
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenantRuntime).ForEach(func(_, raw []byte) error {
			rt := &TenantRuntime{}
			if err := json.Unmarshal(raw, rt); err != nil {
				return err
			}
			out = append(out, rt)
			return nil
		})
	})
	return out, err
}
