package storage

import (
	"encoding/json"
	"time"

	"github.com/nexusd/nexusd/pkg/types"
)

// EventRecord is the persisted form of a bus event. pkg/bus owns the typed
// payload shapes; storage only needs to keep the envelope and raw payload
// so it never has to import pkg/bus.
type EventRecord struct {
	TenantID  string
	EventID   uint64
	Type      string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// Store is the persistence layer for the control service: users, tenants,
// their versioned config/prompt/skill artifacts, and the tenant event log.
// Every mutating method is transactional (ACID via the underlying bbolt
// transaction) even though it is not exposed as a separate Tx type — each
// call is one bucket.Update.
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id string) (*types.User, error)
	GetUserByEmail(email string) (*types.User, error)

	// Tenants
	CreateTenant(tenant *types.Tenant) error
	GetTenant(id string) (*types.Tenant, error)
	GetTenantByOwner(ownerUserID string) (*types.Tenant, error)
	ListTenants() ([]*types.Tenant, error)
	UpdateTenant(tenant *types.Tenant) error
	DeleteTenant(id string) error

	// Config revisions: CreateConfigRevision assigns the next revision
	// number and deactivates the prior active revision atomically.
	CreateConfigRevision(rev *types.ConfigRevision) (*types.ConfigRevision, error)
	GetActiveConfigRevision(tenantID string) (*types.ConfigRevision, error)
	ListConfigRevisions(tenantID string) ([]*types.ConfigRevision, error)

	// Prompt revisions, keyed by (tenant, name).
	CreatePromptRevision(rev *types.PromptRevision) (*types.PromptRevision, error)
	GetActivePromptRevision(tenantID, name string) (*types.PromptRevision, error)
	ListActivePrompts(tenantID string) ([]*types.PromptRevision, error)
	ListPromptRevisions(tenantID, name string) ([]*types.PromptRevision, error)

	// Skill revisions, keyed by (tenant, skill id).
	CreateSkillRevision(rev *types.SkillRevision) (*types.SkillRevision, error)
	GetActiveSkillRevision(tenantID, skillID string) (*types.SkillRevision, error)
	ListActiveSkills(tenantID string) ([]*types.SkillRevision, error)
	ListSkillRevisions(tenantID, skillID string) ([]*types.SkillRevision, error)

	// Events: AppendEvent assigns a gapless, globally monotonic event id
	// via bbolt's NextSequence and indexes it under the tenant for range
	// scans.
	AppendEvent(tenantID, eventType string, payload json.RawMessage, createdAt time.Time) (*EventRecord, error)
	ListEventsSince(tenantID string, afterEventID uint64, limit int) ([]*EventRecord, error)
	ListRecentEvents(tenantID string, limit int) ([]*EventRecord, error)

	// Refresh token spent-jti tracking, independent of tenant lifecycle.
	MarkRefreshTokenSpent(jti string, expiresAt time.Time) error
	IsRefreshTokenSpent(jti string) (bool, error)

	Close() error
}
