package volume

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewManagerCreatesRoot(t *testing.T) {
	root := t.TempDir() + "/nested/root"

	m, err := NewManager(root)
	require.NoError(t, err)
	require.NotNil(t, m)

	_, err = os.Stat(root)
	require.NoError(t, err, "root directory should have been created")
}

func TestEnsureTenantCreatesBothVolumes(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	sessionPath, statePath, err := m.EnsureTenant("t1")
	require.NoError(t, err)

	require.DirExists(t, sessionPath)
	require.DirExists(t, statePath)
	require.Equal(t, m.SessionPath("t1"), sessionPath)
	require.Equal(t, m.StatePath("t1"), statePath)
}

func TestDeleteTenantRemovesVolumes(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	sessionPath, _, err := m.EnsureTenant("t1")
	require.NoError(t, err)

	require.NoError(t, m.DeleteTenant("t1"))
	_, err = os.Stat(sessionPath)
	require.True(t, os.IsNotExist(err))
}

func TestDeleteTenantNeverCreatedIsNoop(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.DeleteTenant("ghost"))
}
