package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nexusd/nexusd/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUserCreateAndLookup(t *testing.T) {
	store := newTestStore(t)

	user := &types.User{ID: "u1", Email: "Alice@Example.com", PasswordHash: "hash", CreatedAt: time.Now()}
	require.NoError(t, store.CreateUser(user))

	got, err := store.GetUser("u1")
	require.NoError(t, err)
	require.Equal(t, user.Email, got.Email)

	byEmail, err := store.GetUserByEmail("alice@example.com")
	require.NoError(t, err, "email lookup must be case-insensitive")
	require.Equal(t, "u1", byEmail.ID)

	_, err = store.GetUser("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserDuplicateEmailRejected(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateUser(&types.User{ID: "u1", Email: "a@example.com"}))
	err := store.CreateUser(&types.User{ID: "u2", Email: "a@example.com"})
	require.Error(t, err)
}

func TestTenantOneOwnerOneTenant(t *testing.T) {
	store := newTestStore(t)

	tenant := &types.Tenant{ID: "t1", OwnerUserID: "u1", DesiredState: types.TenantProvisioning}
	require.NoError(t, store.CreateTenant(tenant))

	err := store.CreateTenant(&types.Tenant{ID: "t2", OwnerUserID: "u1"})
	require.Error(t, err, "a user may own at most one tenant")

	got, err := store.GetTenantByOwner("u1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)

	tenant.ActualState = types.TenantRunning
	require.NoError(t, store.UpdateTenant(tenant))
	got, err = store.GetTenant("t1")
	require.NoError(t, err)
	require.Equal(t, types.TenantRunning, got.ActualState)

	require.NoError(t, store.DeleteTenant("t1"))
	_, err = store.GetTenantByOwner("u1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConfigRevisionsActivationSwap(t *testing.T) {
	store := newTestStore(t)

	rev1, err := store.CreateConfigRevision(&types.ConfigRevision{TenantID: "t1", Env: map[string]string{"A": "1"}})
	require.NoError(t, err)
	require.EqualValues(t, 1, rev1.Revision)
	require.True(t, rev1.Active)

	rev2, err := store.CreateConfigRevision(&types.ConfigRevision{TenantID: "t1", Env: map[string]string{"A": "2"}})
	require.NoError(t, err)
	require.EqualValues(t, 2, rev2.Revision)

	active, err := store.GetActiveConfigRevision("t1")
	require.NoError(t, err)
	require.EqualValues(t, 2, active.Revision)

	all, err := store.ListConfigRevisions("t1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.False(t, all[0].Active, "superseded revision must be flipped inactive")
	require.True(t, all[1].Active)
}

func TestPromptRevisionsPerName(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreatePromptRevision(&types.PromptRevision{TenantID: "t1", Name: "system", Content: "v1"})
	require.NoError(t, err)
	_, err = store.CreatePromptRevision(&types.PromptRevision{TenantID: "t1", Name: "greeting", Content: "hi"})
	require.NoError(t, err)
	_, err = store.CreatePromptRevision(&types.PromptRevision{TenantID: "t1", Name: "system", Content: "v2"})
	require.NoError(t, err)

	active, err := store.GetActivePromptRevision("t1", "system")
	require.NoError(t, err)
	require.Equal(t, "v2", active.Content)

	allActive, err := store.ListActivePrompts("t1")
	require.NoError(t, err)
	require.Len(t, allActive, 2)

	history, err := store.ListPromptRevisions("t1", "system")
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestSkillRevisionsPerSkillID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateSkillRevision(&types.SkillRevision{TenantID: "t1", SkillID: "calendar", Content: "v1"})
	require.NoError(t, err)
	_, err = store.CreateSkillRevision(&types.SkillRevision{TenantID: "t1", SkillID: "calendar", Content: "v2"})
	require.NoError(t, err)

	active, err := store.GetActiveSkillRevision("t1", "calendar")
	require.NoError(t, err)
	require.Equal(t, "v2", active.Content)

	history, err := store.ListSkillRevisions("t1", "calendar")
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestEventAppendAndRangeScan(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		payload, _ := json.Marshal(map[string]int{"i": i})
		_, err := store.AppendEvent("t1", "test.tick", payload, time.Now())
		require.NoError(t, err)
	}
	// Events for a different tenant must not leak into t1's range scans.
	_, err := store.AppendEvent("t2", "test.tick", json.RawMessage(`{}`), time.Now())
	require.NoError(t, err)

	recent, err := store.ListRecentEvents("t1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.Less(t, recent[0].EventID, recent[1].EventID, "ListRecentEvents must return oldest-first")

	since, err := store.ListEventsSince("t1", recent[len(recent)-1].EventID, 0)
	require.NoError(t, err)
	for _, ev := range since {
		require.Equal(t, "t1", ev.TenantID)
		require.Greater(t, ev.EventID, recent[len(recent)-1].EventID)
	}
}

func TestRefreshTokenSpentTracking(t *testing.T) {
	store := newTestStore(t)

	spent, err := store.IsRefreshTokenSpent("jti-1")
	require.NoError(t, err)
	require.False(t, spent)

	require.NoError(t, store.MarkRefreshTokenSpent("jti-1", time.Now().Add(time.Hour)))

	spent, err = store.IsRefreshTokenSpent("jti-1")
	require.NoError(t, err)
	require.True(t, spent)
}
