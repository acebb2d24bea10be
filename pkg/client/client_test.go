package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusd/nexusd/pkg/security"
)

func testSigner(t *testing.T) *security.ActionSigner {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	signer, err := security.NewActionSigner(key, nil, 30*time.Second)
	require.NoError(t, err)
	return signer
}

func TestActionClientSendsSignedBearerToken(t *testing.T) {
	signer := testSigner(t)
	var gotAuth, gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewActionClient(srv.URL, signer)
	err := c.Start(t.Context(), "t_001", StartRequest{})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/internal/tenants/t_001/start", gotPath)

	token, ok := parseBearer(gotAuth)
	require.True(t, ok)
	claims, err := signer.Verify(token, ActionStart)
	require.NoError(t, err)
	assert.Equal(t, "t_001", claims.TenantID)
}

func TestActionClientHealthDecodesResponse(t *testing.T) {
	signer := testSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Exists: true, State: "running"})
	}))
	defer srv.Close()

	c := NewActionClient(srv.URL, signer)
	resp, err := c.Health(t.Context(), "t_001")
	require.NoError(t, err)
	assert.True(t, resp.Exists)
	assert.Equal(t, "running", resp.State)
}

func TestActionClientErrorStatusSurfacesBody(t *testing.T) {
	signer := testSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer srv.Close()

	c := NewActionClient(srv.URL, signer)
	err := c.Stop(t.Context(), "t_001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestBridgeForwarderSendsExpectedToken(t *testing.T) {
	key := []byte("a-sufficiently-long-shared-bridge-key-value")
	var gotAuth string
	var gotReq ForwardEventRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewBridgeForwarder(srv.URL, key)
	err := f.Forward(t.Context(), "t_001", "whatsapp.qr", json.RawMessage(`{"qr":"abc"}`))
	require.NoError(t, err)

	assert.Equal(t, "Bearer "+security.BridgeToken(key), gotAuth)
	assert.Equal(t, "t_001", gotReq.TenantID)
	assert.Equal(t, "whatsapp.qr", gotReq.Type)
}

func parseBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
