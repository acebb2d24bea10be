package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/security"
	"github.com/nexusd/nexusd/pkg/storage"
	"github.com/nexusd/nexusd/pkg/types"
)

func TestValidateConfigKeys(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
		wantOK bool
	}{
		{"empty map", map[string]string{}, true},
		{"simple key", map[string]string{"FOO": "bar"}, true},
		{"leading underscore", map[string]string{"_FOO": "bar"}, true},
		{"digits after first char", map[string]string{"FOO_2": "bar"}, true},
		{"leading digit rejected", map[string]string{"2FOO": "bar"}, false},
		{"hyphen rejected", map[string]string{"FOO-BAR": "bar"}, false},
		{"dot rejected", map[string]string{"FOO.BAR": "bar"}, false},
		{"empty key rejected", map[string]string{"": "bar"}, false},
		{"space rejected", map[string]string{"FOO BAR": "bar"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := validateConfigKeys(tt.values)
			require.Equal(t, tt.wantOK, ok)
		})
	}
}

func newConfigTestControl(t *testing.T) (*Control, *types.Tenant) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	secrets, err := security.NewSecretsManager([]byte("01234567890123456789012345678901"))
	require.NoError(t, err)

	sessions, err := security.NewSessionIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour, 24*time.Hour, 4)
	require.NoError(t, err)

	tenant := &types.Tenant{
		ID:          "tenant-1",
		OwnerUserID: "user-1",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateTenant(tenant))

	return &Control{store: store, secrets: secrets, sessions: sessions, bus: bus.NewBroker(store)}, tenant
}

func authedConfigRequest(t *testing.T, c *Control, tenant *types.Tenant, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	claims := &security.SessionClaims{UserID: tenant.OwnerUserID, TenantID: tenant.ID}
	req := httptest.NewRequest(http.MethodPatch, "/tenants/"+tenant.ID+"/config", bytes.NewReader(raw))
	req = req.WithContext(context.WithValue(req.Context(), sessionContextKey, claims))
	req = mux.SetURLVars(req, map[string]string{"id": tenant.ID})
	return req
}

func TestHandlePatchConfig_RejectsMalformedKey(t *testing.T) {
	c, tenant := newConfigTestControl(t)

	req := authedConfigRequest(t, c, tenant, patchConfigRequest{Values: map[string]string{"2FOO": "bar"}})
	rec := httptest.NewRecorder()
	c.HandlePatchConfig(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var got errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "malformed_config_key", got.Error)

	active, err := c.store.GetActiveConfigRevision(tenant.ID)
	require.NoError(t, err)
	require.Nil(t, active, "no revision should be created for a rejected patch")
}

func TestHandlePatchConfig_AcceptsValidKey(t *testing.T) {
	c, tenant := newConfigTestControl(t)

	req := authedConfigRequest(t, c, tenant, patchConfigRequest{Values: map[string]string{"FOO_BAR": "baz"}})
	rec := httptest.NewRecorder()
	c.HandlePatchConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	active, err := c.store.GetActiveConfigRevision(tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
}
