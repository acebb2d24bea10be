// Package volume manages the two host directories bind-mounted into every
// tenant container: a session volume (bridge auth/session state) and a
// state volume (assistant working state), both rooted under one
// tenant-root path.
package volume

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTenantRoot is the base directory tenant volumes are created under
// when the worker isn't configured with an explicit path.
const DefaultTenantRoot = "/var/lib/nexusd/tenants"

// Manager creates and tears down the per-tenant directory pair on the local
// filesystem.
type Manager struct {
	root string
}

// NewManager creates a Manager rooted at root, creating it if necessary.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = DefaultTenantRoot
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tenant root directory: %w", err)
	}
	return &Manager{root: root}, nil
}

// EnsureTenant creates the session and state directories for tenantID if
// they don't already exist, and returns their paths.
func (m *Manager) EnsureTenant(tenantID string) (sessionPath, statePath string, err error) {
	sessionPath = m.SessionPath(tenantID)
	statePath = m.StatePath(tenantID)
	if err := os.MkdirAll(sessionPath, 0700); err != nil {
		return "", "", fmt.Errorf("create session volume: %w", err)
	}
	if err := os.MkdirAll(statePath, 0700); err != nil {
		return "", "", fmt.Errorf("create state volume: %w", err)
	}
	return sessionPath, statePath, nil
}

// SessionPath returns the host path for tenantID's session volume, without
// creating it.
func (m *Manager) SessionPath(tenantID string) string {
	return filepath.Join(m.root, tenantID, "session")
}

// StatePath returns the host path for tenantID's state volume, without
// creating it.
func (m *Manager) StatePath(tenantID string) string {
	return filepath.Join(m.root, tenantID, "state")
}

// EnvFilePath returns the host path for the rendered .env file the worker
// writes from the tenant's active ConfigRevision.
func (m *Manager) EnvFilePath(tenantID string) string {
	return filepath.Join(m.root, tenantID, "env")
}

// DeleteTenant removes every volume belonging to tenantID. Safe to call on
// a tenant whose directories were never created.
func (m *Manager) DeleteTenant(tenantID string) error {
	dir := filepath.Join(m.root, tenantID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete tenant volumes: %w", err)
	}
	return nil
}
