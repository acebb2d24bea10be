package control

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nexusd/nexusd/pkg/security"
)

type errorBody struct {
	Error  string      `json:"error"`
	Detail interface{} `json:"detail,omitempty"`
}

func writeJSON(resp http.ResponseWriter, status int, v interface{}) {
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(status)
	_ = json.NewEncoder(resp).Encode(v)
}

func writeError(resp http.ResponseWriter, status int, code string, detail interface{}) {
	writeJSON(resp, status, errorBody{Error: code, Detail: detail})
}

func writeValidationError(resp http.ResponseWriter, code string) {
	writeError(resp, http.StatusBadRequest, code, nil)
}

func writeInternalError(resp http.ResponseWriter, err error) {
	writeError(resp, http.StatusInternalServerError, "internal_error", nil)
}

func writePreconditionError(resp http.ResponseWriter, code string) {
	writeError(resp, http.StatusBadRequest, code, map[string]string{"error": code})
}

func writeConflict(resp http.ResponseWriter, detail interface{}) {
	writeJSON(resp, http.StatusConflict, errorBody{Error: "conflict", Detail: detail})
}

type contextKey string

const sessionContextKey contextKey = "control.session"

// withAuth requires a valid session access token and injects its claims
// into the request context for downstream handlers.
func (c *Control) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(resp http.ResponseWriter, req *http.Request) {
		token, ok := bearerToken(req)
		if !ok {
			writeError(resp, http.StatusUnauthorized, "missing_bearer_token", nil)
			return
		}
		claims, err := c.sessions.VerifyAccessToken(token)
		if err != nil {
			writeError(resp, http.StatusUnauthorized, "invalid_access_token", nil)
			return
		}
		ctx := context.WithValue(req.Context(), sessionContextKey, claims)
		next(resp, req.WithContext(ctx))
	}
}

func sessionFromContext(ctx context.Context) *security.SessionClaims {
	claims, _ := ctx.Value(sessionContextKey).(*security.SessionClaims)
	return claims
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimPrefix(h, prefix), true
}
