package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexusd/nexusd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// ErrNotFound is returned by Get-style lookups that find nothing, except
// GetActiveConfigRevision, which returns (nil, nil) for a tenant with no
// config revision yet.
var ErrNotFound = errors.New("not found")

var (
	bucketUsers           = []byte("users")
	bucketUsersByEmail    = []byte("users_by_email")
	bucketTenants         = []byte("tenants")
	bucketTenantsByOwner  = []byte("tenants_by_owner")
	bucketConfigRevisions = []byte("config_revisions")
	bucketConfigActive    = []byte("config_active")
	bucketPromptRevisions = []byte("prompt_revisions")
	bucketPromptActive    = []byte("prompt_active")
	bucketSkillRevisions  = []byte("skill_revisions")
	bucketSkillActive     = []byte("skill_active")
	bucketEvents          = []byte("events")
	bucketEventsByTenant  = []byte("events_by_tenant")
	bucketSpentRefresh    = []byte("spent_refresh_tokens")
)

// BoltStore implements Store on top of a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the bbolt database under
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "nexusd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers, bucketUsersByEmail,
			bucketTenants, bucketTenantsByOwner,
			bucketConfigRevisions, bucketConfigActive,
			bucketPromptRevisions, bucketPromptActive,
			bucketSkillRevisions, bucketSkillActive,
			bucketEvents, bucketEventsByTenant,
			bucketSpentRefresh,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *BoltStore) CreateUser(user *types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		byEmail := tx.Bucket(bucketUsersByEmail)
		emailKey := []byte(strings.ToLower(user.Email))
		if byEmail.Get(emailKey) != nil {
			return fmt.Errorf("email %s already registered", user.Email)
		}

		data, err := json.Marshal(user)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketUsers).Put([]byte(user.ID), data); err != nil {
			return err
		}
		return byEmail.Put(emailKey, []byte(user.ID))
	})
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BoltStore) GetUserByEmail(email string) (*types.User, error) {
	var id []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		id = tx.Bucket(bucketUsersByEmail).Get([]byte(strings.ToLower(email)))
		if id == nil {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(string(id))
}

// --- Tenants ---

func (s *BoltStore) CreateTenant(tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		byOwner := tx.Bucket(bucketTenantsByOwner)
		ownerKey := []byte(tenant.OwnerUserID)
		if byOwner.Get(ownerKey) != nil {
			return fmt.Errorf("user %s already owns a tenant", tenant.OwnerUserID)
		}

		data, err := json.Marshal(tenant)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTenants).Put([]byte(tenant.ID), data); err != nil {
			return err
		}
		return byOwner.Put(ownerKey, []byte(tenant.ID))
	})
}

func (s *BoltStore) GetTenant(id string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTenants).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &tenant)
	})
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *BoltStore) GetTenantByOwner(ownerUserID string) (*types.Tenant, error) {
	var id []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		id = tx.Bucket(bucketTenantsByOwner).Get([]byte(ownerUserID))
		if id == nil {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTenant(string(id))
}

func (s *BoltStore) ListTenants() ([]*types.Tenant, error) {
	var tenants []*types.Tenant
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTenants).ForEach(func(k, v []byte) error {
			var tenant types.Tenant
			if err := json.Unmarshal(v, &tenant); err != nil {
				return err
			}
			tenants = append(tenants, &tenant)
			return nil
		})
	})
	return tenants, err
}

func (s *BoltStore) UpdateTenant(tenant *types.Tenant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(tenant)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTenants).Put([]byte(tenant.ID), data)
	})
}

func (s *BoltStore) DeleteTenant(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		tenant, err := s.getTenantTx(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketTenants).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketTenantsByOwner).Delete([]byte(tenant.OwnerUserID))
	})
}

func (s *BoltStore) getTenantTx(tx *bolt.Tx, id string) (*types.Tenant, error) {
	var tenant types.Tenant
	data := tx.Bucket(bucketTenants).Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(data, &tenant); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// --- Config revisions ---

func configRevisionKey(tenantID string, revision uint64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", tenantID, revision))
}

func (s *BoltStore) CreateConfigRevision(rev *types.ConfigRevision) (*types.ConfigRevision, error) {
	out := *rev
	err := s.db.Update(func(tx *bolt.Tx) error {
		revisions := tx.Bucket(bucketConfigRevisions)
		active := tx.Bucket(bucketConfigActive)

		seq, err := revisions.NextSequence()
		if err != nil {
			return err
		}
		out.Revision = seq
		out.Active = true

		if prev := active.Get([]byte(out.TenantID)); prev != nil {
			prevRev, err := s.getConfigRevisionTx(tx, out.TenantID, binary.BigEndian.Uint64(prev))
			if err == nil {
				prevRev.Active = false
				data, err := json.Marshal(prevRev)
				if err != nil {
					return err
				}
				if err := revisions.Put(configRevisionKey(out.TenantID, prevRev.Revision), data); err != nil {
					return err
				}
			}
		}

		data, err := json.Marshal(&out)
		if err != nil {
			return err
		}
		if err := revisions.Put(configRevisionKey(out.TenantID, out.Revision), data); err != nil {
			return err
		}

		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, out.Revision)
		return active.Put([]byte(out.TenantID), seqBytes)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) getConfigRevisionTx(tx *bolt.Tx, tenantID string, revision uint64) (*types.ConfigRevision, error) {
	var rev types.ConfigRevision
	data := tx.Bucket(bucketConfigRevisions).Get(configRevisionKey(tenantID, revision))
	if data == nil {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(data, &rev); err != nil {
		return nil, err
	}
	return &rev, nil
}

// GetActiveConfigRevision returns the tenant's active config revision, or
// (nil, nil) if the tenant has none yet.
func (s *BoltStore) GetActiveConfigRevision(tenantID string) (*types.ConfigRevision, error) {
	var rev *types.ConfigRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		seqBytes := tx.Bucket(bucketConfigActive).Get([]byte(tenantID))
		if seqBytes == nil {
			return nil
		}
		revision := binary.BigEndian.Uint64(seqBytes)
		data := tx.Bucket(bucketConfigRevisions).Get(configRevisionKey(tenantID, revision))
		if data == nil {
			return ErrNotFound
		}
		rev = &types.ConfigRevision{}
		return json.Unmarshal(data, rev)
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (s *BoltStore) ListConfigRevisions(tenantID string) ([]*types.ConfigRevision, error) {
	var revs []*types.ConfigRevision
	prefix := []byte(tenantID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketConfigRevisions).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rev types.ConfigRevision
			if err := json.Unmarshal(v, &rev); err != nil {
				return err
			}
			revs = append(revs, &rev)
		}
		return nil
	})
	return revs, err
}

// --- Prompt revisions ---

func promptRevisionKey(tenantID, name string, revision uint64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%020d", tenantID, name, revision))
}

func promptActiveKey(tenantID, name string) []byte {
	return []byte(tenantID + "/" + name)
}

func (s *BoltStore) CreatePromptRevision(rev *types.PromptRevision) (*types.PromptRevision, error) {
	out := *rev
	err := s.db.Update(func(tx *bolt.Tx) error {
		revisions := tx.Bucket(bucketPromptRevisions)
		active := tx.Bucket(bucketPromptActive)

		seq, err := revisions.NextSequence()
		if err != nil {
			return err
		}
		out.Revision = seq
		out.Active = true

		activeKey := promptActiveKey(out.TenantID, out.Name)
		if prev := active.Get(activeKey); prev != nil {
			prevRevNum := binary.BigEndian.Uint64(prev)
			prevData := revisions.Get(promptRevisionKey(out.TenantID, out.Name, prevRevNum))
			if prevData != nil {
				var prevRev types.PromptRevision
				if err := json.Unmarshal(prevData, &prevRev); err == nil {
					prevRev.Active = false
					data, err := json.Marshal(&prevRev)
					if err != nil {
						return err
					}
					if err := revisions.Put(promptRevisionKey(out.TenantID, out.Name, prevRevNum), data); err != nil {
						return err
					}
				}
			}
		}

		data, err := json.Marshal(&out)
		if err != nil {
			return err
		}
		if err := revisions.Put(promptRevisionKey(out.TenantID, out.Name, out.Revision), data); err != nil {
			return err
		}

		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, out.Revision)
		return active.Put(activeKey, seqBytes)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) GetActivePromptRevision(tenantID, name string) (*types.PromptRevision, error) {
	var rev types.PromptRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		seqBytes := tx.Bucket(bucketPromptActive).Get(promptActiveKey(tenantID, name))
		if seqBytes == nil {
			return ErrNotFound
		}
		revision := binary.BigEndian.Uint64(seqBytes)
		data := tx.Bucket(bucketPromptRevisions).Get(promptRevisionKey(tenantID, name, revision))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rev)
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func (s *BoltStore) ListActivePrompts(tenantID string) ([]*types.PromptRevision, error) {
	var out []*types.PromptRevision
	prefix := []byte(tenantID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		active := tx.Bucket(bucketPromptActive)
		revisions := tx.Bucket(bucketPromptRevisions)
		c := active.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			name := strings.TrimPrefix(string(k), string(prefix))
			revision := binary.BigEndian.Uint64(v)
			data := revisions.Get(promptRevisionKey(tenantID, name, revision))
			if data == nil {
				continue
			}
			var rev types.PromptRevision
			if err := json.Unmarshal(data, &rev); err != nil {
				return err
			}
			out = append(out, &rev)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListPromptRevisions(tenantID, name string) ([]*types.PromptRevision, error) {
	var revs []*types.PromptRevision
	prefix := []byte(tenantID + "/" + name + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPromptRevisions).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rev types.PromptRevision
			if err := json.Unmarshal(v, &rev); err != nil {
				return err
			}
			revs = append(revs, &rev)
		}
		return nil
	})
	return revs, err
}

// --- Skill revisions ---

func skillRevisionKey(tenantID, skillID string, revision uint64) []byte {
	return []byte(fmt.Sprintf("%s/%s/%020d", tenantID, skillID, revision))
}

func skillActiveKey(tenantID, skillID string) []byte {
	return []byte(tenantID + "/" + skillID)
}

func (s *BoltStore) CreateSkillRevision(rev *types.SkillRevision) (*types.SkillRevision, error) {
	out := *rev
	err := s.db.Update(func(tx *bolt.Tx) error {
		revisions := tx.Bucket(bucketSkillRevisions)
		active := tx.Bucket(bucketSkillActive)

		seq, err := revisions.NextSequence()
		if err != nil {
			return err
		}
		out.Revision = seq
		out.Active = true

		activeKey := skillActiveKey(out.TenantID, out.SkillID)
		if prev := active.Get(activeKey); prev != nil {
			prevRevNum := binary.BigEndian.Uint64(prev)
			prevData := revisions.Get(skillRevisionKey(out.TenantID, out.SkillID, prevRevNum))
			if prevData != nil {
				var prevRev types.SkillRevision
				if err := json.Unmarshal(prevData, &prevRev); err == nil {
					prevRev.Active = false
					data, err := json.Marshal(&prevRev)
					if err != nil {
						return err
					}
					if err := revisions.Put(skillRevisionKey(out.TenantID, out.SkillID, prevRevNum), data); err != nil {
						return err
					}
				}
			}
		}

		data, err := json.Marshal(&out)
		if err != nil {
			return err
		}
		if err := revisions.Put(skillRevisionKey(out.TenantID, out.SkillID, out.Revision), data); err != nil {
			return err
		}

		seqBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(seqBytes, out.Revision)
		return active.Put(activeKey, seqBytes)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) GetActiveSkillRevision(tenantID, skillID string) (*types.SkillRevision, error) {
	var rev types.SkillRevision
	err := s.db.View(func(tx *bolt.Tx) error {
		seqBytes := tx.Bucket(bucketSkillActive).Get(skillActiveKey(tenantID, skillID))
		if seqBytes == nil {
			return ErrNotFound
		}
		revision := binary.BigEndian.Uint64(seqBytes)
		data := tx.Bucket(bucketSkillRevisions).Get(skillRevisionKey(tenantID, skillID, revision))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rev)
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

func (s *BoltStore) ListActiveSkills(tenantID string) ([]*types.SkillRevision, error) {
	var out []*types.SkillRevision
	prefix := []byte(tenantID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		active := tx.Bucket(bucketSkillActive)
		revisions := tx.Bucket(bucketSkillRevisions)
		c := active.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			skillID := strings.TrimPrefix(string(k), string(prefix))
			revision := binary.BigEndian.Uint64(v)
			data := revisions.Get(skillRevisionKey(tenantID, skillID, revision))
			if data == nil {
				continue
			}
			var rev types.SkillRevision
			if err := json.Unmarshal(data, &rev); err != nil {
				return err
			}
			out = append(out, &rev)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListSkillRevisions(tenantID, skillID string) ([]*types.SkillRevision, error) {
	var revs []*types.SkillRevision
	prefix := []byte(tenantID + "/" + skillID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSkillRevisions).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rev types.SkillRevision
			if err := json.Unmarshal(v, &rev); err != nil {
				return err
			}
			revs = append(revs, &rev)
		}
		return nil
	})
	return revs, err
}

// --- Events ---

func eventsByTenantKey(tenantID string, eventID uint64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", tenantID, eventID))
}

func (s *BoltStore) AppendEvent(tenantID, eventType string, payload json.RawMessage, createdAt time.Time) (*EventRecord, error) {
	rec := &EventRecord{TenantID: tenantID, Type: eventType, CreatedAt: createdAt, Payload: payload}
	err := s.db.Update(func(tx *bolt.Tx) error {
		events := tx.Bucket(bucketEvents)
		seq, err := events.NextSequence()
		if err != nil {
			return err
		}
		rec.EventID = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		idBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(idBytes, rec.EventID)
		if err := events.Put(idBytes, data); err != nil {
			return err
		}
		return tx.Bucket(bucketEventsByTenant).Put(eventsByTenantKey(tenantID, rec.EventID), data)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) ListEventsSince(tenantID string, afterEventID uint64, limit int) ([]*EventRecord, error) {
	var out []*EventRecord
	prefix := []byte(tenantID + "/")
	cursorKey := eventsByTenantKey(tenantID, afterEventID+1)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEventsByTenant).Cursor()
		for k, v := c.Seek(cursorKey); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rec EventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListRecentEvents(tenantID string, limit int) ([]*EventRecord, error) {
	var out []*EventRecord
	prefix := []byte(tenantID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEventsByTenant).Cursor()
		upper := append(append([]byte{}, prefix...), 0xFF)
		k, v := c.Seek(upper)
		if k == nil || !strings.HasPrefix(string(k), string(prefix)) {
			k, v = c.Prev()
		}
		for ; k != nil; k, v = c.Prev() {
			if !strings.HasPrefix(string(k), string(prefix)) {
				break
			}
			var rec EventRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	// out is newest-first from the reverse scan; callers expect oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// --- Refresh token tracking ---

func (s *BoltStore) MarkRefreshTokenSpent(jti string, expiresAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := expiresAt.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSpentRefresh).Put([]byte(jti), data)
	})
}

func (s *BoltStore) IsRefreshTokenSpent(jti string) (bool, error) {
	var spent bool
	err := s.db.View(func(tx *bolt.Tx) error {
		spent = tx.Bucket(bucketSpentRefresh).Get([]byte(jti)) != nil
		return nil
	})
	return spent, err
}
