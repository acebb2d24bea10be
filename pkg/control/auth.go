package control

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusd/nexusd/pkg/types"
)

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type authResponse struct {
	User   userView  `json:"user"`
	Tokens tokenPair `json:"tokens"`
}

type userView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// HandleSignup creates a user with a unique, case-insensitive email.
func (c *Control) HandleSignup(resp http.ResponseWriter, req *http.Request) {
	var body signupRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || body.Password == "" {
		writeValidationError(resp, "email_and_password_required")
		return
	}

	if existing, err := c.store.GetUserByEmail(email); err == nil && existing != nil {
		writeValidationError(resp, "email_already_registered")
		return
	}

	hash, err := c.sessions.HashPassword(body.Password)
	if err != nil {
		writeInternalError(resp, err)
		return
	}

	user := &types.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := c.store.CreateUser(user); err != nil {
		writeInternalError(resp, err)
		return
	}

	tokens, err := c.issueTokens(user.ID, "")
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusCreated, authResponse{
		User:   userView{ID: user.ID, Email: user.Email},
		Tokens: *tokens,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin verifies credentials and issues a fresh token pair.
func (c *Control) HandleLogin(resp http.ResponseWriter, req *http.Request) {
	var body loginRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))

	user, err := c.store.GetUserByEmail(email)
	if err != nil || user == nil || !c.sessions.CheckPassword(user.PasswordHash, body.Password) {
		writeError(resp, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}

	tenantID := ""
	if tenant, err := c.store.GetTenantByOwner(user.ID); err == nil && tenant != nil {
		tenantID = tenant.ID
	}

	tokens, err := c.issueTokens(user.ID, tenantID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, authResponse{
		User:   userView{ID: user.ID, Email: user.Email},
		Tokens: *tokens,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh rotates a refresh token: the presented token's jti is
// marked spent so it can never be exchanged a second time.
func (c *Control) HandleRefresh(resp http.ResponseWriter, req *http.Request) {
	var body refreshRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeValidationError(resp, "invalid_request_body")
		return
	}

	claims, err := c.sessions.VerifyRefreshToken(body.RefreshToken)
	if err != nil {
		writeError(resp, http.StatusUnauthorized, "invalid_refresh_token", nil)
		return
	}
	spent, err := c.store.IsRefreshTokenSpent(claims.ID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	if spent {
		writeError(resp, http.StatusUnauthorized, "refresh_token_already_used", nil)
		return
	}
	if err := c.store.MarkRefreshTokenSpent(claims.ID, claims.ExpiresAt.Time); err != nil {
		writeInternalError(resp, err)
		return
	}

	tenantID := ""
	if tenant, err := c.store.GetTenantByOwner(claims.UserID); err == nil && tenant != nil {
		tenantID = tenant.ID
	}
	tokens, err := c.issueTokens(claims.UserID, tenantID)
	if err != nil {
		writeInternalError(resp, err)
		return
	}
	writeJSON(resp, http.StatusOK, struct {
		Tokens tokenPair `json:"tokens"`
	}{Tokens: *tokens})
}

func (c *Control) issueTokens(userID, tenantID string) (*tokenPair, error) {
	access, expiresAt, err := c.sessions.IssueAccessToken(userID, tenantID)
	if err != nil {
		return nil, err
	}
	refresh, _, _, err := c.sessions.IssueRefreshToken(userID)
	if err != nil {
		return nil, err
	}
	return &tokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: expiresAt}, nil
}
