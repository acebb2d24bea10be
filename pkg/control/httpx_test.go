package control

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nexusd/nexusd/pkg/security"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantOK    bool
	}{
		{"valid bearer token", "Bearer abc123", "abc123", true},
		{"missing header", "", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"empty token after prefix", "Bearer ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			token, ok := bearerToken(req)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusForbidden, "forbidden", nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
}

func TestWriteConflict(t *testing.T) {
	rec := httptest.NewRecorder()
	writeConflict(rec, map[string]string{"tenant_id": "t-1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"conflict","detail":{"tenant_id":"t-1"}}`, rec.Body.String())
}

func TestWriteValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeValidationError(rec, "invalid_image")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid_image"}`, rec.Body.String())
}

func TestSessionFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, sessionFromContext(req.Context()))
}

func newTestControl(t *testing.T) *Control {
	t.Helper()
	sessions, err := security.NewSessionIssuer([]byte("0123456789abcdef0123456789abcdef"), time.Hour, 24*time.Hour, 4)
	assert.NoError(t, err)
	return &Control{sessions: sessions}
}

func TestWithAuth_MissingToken(t *testing.T) {
	c := newTestControl(t)
	handler := c.withAuth(func(resp http.ResponseWriter, req *http.Request) {
		t.Fatal("handler should not be called without a token")
	})

	req := httptest.NewRequest(http.MethodGet, "/tenants/t-1/status", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuth_InvalidToken(t *testing.T) {
	c := newTestControl(t)
	handler := c.withAuth(func(resp http.ResponseWriter, req *http.Request) {
		t.Fatal("handler should not be called with an invalid token")
	})

	req := httptest.NewRequest(http.MethodGet, "/tenants/t-1/status", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuth_ValidToken(t *testing.T) {
	c := newTestControl(t)
	token, _, err := c.sessions.IssueAccessToken("user-1", "tenant-1")
	assert.NoError(t, err)

	var gotClaims *security.SessionClaims
	handler := c.withAuth(func(resp http.ResponseWriter, req *http.Request) {
		gotClaims = sessionFromContext(req.Context())
		resp.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/tenants/t-1/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	if assert.NotNil(t, gotClaims) {
		assert.Equal(t, "user-1", gotClaims.UserID)
		assert.Equal(t, "tenant-1", gotClaims.TenantID)
	}
}
