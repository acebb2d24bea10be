// Package types holds the domain entities shared by the control and worker
// planes: users, tenants, and the versioned artifacts (config, prompts,
// skills) that make up a tenant's runtime configuration.
package types

import "time"

// User owns at most one Tenant at a time.
type User struct {
	ID           string
	Email        string // stored lower-cased; uniqueness is case-insensitive
	PasswordHash string // bcrypt verifier
	CreatedAt    time.Time
}

// TenantState is shared by DesiredState and ActualState; see the state
// machine walked by the worker's reconciler.
type TenantState string

const (
	TenantProvisioning   TenantState = "provisioning"
	TenantRunning        TenantState = "running"
	TenantPaused         TenantState = "paused"
	TenantPendingPairing TenantState = "pending_pairing"
	TenantError          TenantState = "error"
	TenantDeleted        TenantState = "deleted"
)

// Tenant is a user's isolated runtime environment.
type Tenant struct {
	ID               string
	OwnerUserID      string
	CreatedAt        time.Time
	DesiredState     TenantState
	ActualState      TenantState
	LastHeartbeat    time.Time
	LastError        string
	Image            string // last recorded runtime image reference
	BootstrapApplied bool   // assistant bootstrap (default prompts/skills) has run
}

// ConfigRevision is one version of a tenant's environment map. Exactly one
// revision per tenant is Active.
type ConfigRevision struct {
	TenantID  string
	Revision  uint64
	Env       map[string]string // sensitive values are encrypted at rest, see pkg/security
	CreatedAt time.Time
	Active    bool
}

// PromptRevision is one version of a named prompt artifact. Exactly one
// revision per (tenant, name) is Active.
type PromptRevision struct {
	TenantID  string
	Name      string
	Revision  uint64
	Content   string
	CreatedAt time.Time
	Active    bool
}

// SkillRevision is one version of a named skill artifact. Exactly one
// revision per (tenant, skill id) is Active.
type SkillRevision struct {
	TenantID  string
	SkillID   string
	Revision  uint64
	Content   string
	CreatedAt time.Time
	Active    bool
}
