package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActionClaims is the capability token the control service hands the worker
// for a single tenant lifecycle action. It is scoped to one tenant and one
// action name, and carries a short validity window.
type ActionClaims struct {
	TenantID string `json:"tenant_id"`
	Action   string `json:"action"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// ActionSigner mints and verifies ActionClaims tokens with HS256. It
// supports a previous key for zero-downtime key rotation: new tokens are
// always signed with the current key, but tokens signed with the previous
// key still verify until it is dropped.
type ActionSigner struct {
	currentKey  []byte
	previousKey []byte
	ttl         time.Duration
}

// NewActionSigner builds an ActionSigner. currentKey must be at least 32
// bytes; previousKey may be nil.
func NewActionSigner(currentKey, previousKey []byte, ttl time.Duration) (*ActionSigner, error) {
	if len(currentKey) < 32 {
		return nil, fmt.Errorf("action signing key must be at least 32 bytes, got %d", len(currentKey))
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ActionSigner{currentKey: currentKey, previousKey: previousKey, ttl: ttl}, nil
}

// Sign mints an action token scoped to tenantID and action, valid for the
// signer's TTL starting now.
func (s *ActionSigner) Sign(tenantID, action string) (string, error) {
	nonce, err := randomNonce()
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := ActionClaims{
		TenantID: tenantID,
		Action:   action,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentKey)
}

// Verify parses and validates an action token, returning its claims. It
// requires the action name match the claim exactly, so a token minted for
// "restart" can never be replayed against the "delete" handler.
func (s *ActionSigner) Verify(tokenString, wantAction string) (*ActionClaims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Action != wantAction {
		return nil, fmt.Errorf("action token scoped to %q, handler requires %q", claims.Action, wantAction)
	}
	return claims, nil
}

func (s *ActionSigner) parse(tokenString string) (*ActionClaims, error) {
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.currentKey, nil
	}

	claims := &ActionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
	if err == nil && token.Valid {
		return claims, nil
	}

	if len(s.previousKey) > 0 {
		prevClaims := &ActionClaims{}
		prevToken, prevErr := jwt.ParseWithClaims(tokenString, prevClaims, func(t *jwt.Token) (interface{}, error) {
			return s.previousKey, nil
		})
		if prevErr == nil && prevToken.Valid {
			return prevClaims, nil
		}
	}

	if err != nil {
		return nil, fmt.Errorf("invalid action token: %w", err)
	}
	return nil, errors.New("invalid action token")
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
