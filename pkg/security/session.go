package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// SessionClaims identifies the user a session token was issued for, plus the
// tenant the user currently owns (empty until a tenant exists).
type SessionClaims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims additionally carries a JTI so a refresh token can be
// recognized as spent once it has been exchanged for a new pair.
type RefreshClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// SessionIssuer mints and verifies access and refresh tokens for the HTTP
// API's session auth (distinct from the worker-facing ActionSigner).
type SessionIssuer struct {
	key         []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	bcryptCost  int
}

// NewSessionIssuer builds a SessionIssuer. key must be at least 32 bytes.
func NewSessionIssuer(key []byte, accessTTL, refreshTTL time.Duration, bcryptCost int) (*SessionIssuer, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("session signing key must be at least 32 bytes, got %d", len(key))
	}
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &SessionIssuer{key: key, accessTTL: accessTTL, refreshTTL: refreshTTL, bcryptCost: bcryptCost}, nil
}

// HashPassword produces a bcrypt verifier for storage on the User record.
func (s *SessionIssuer) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against its bcrypt verifier.
func (s *SessionIssuer) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// IssueAccessToken mints a short-lived access token for userID/tenantID.
func (s *SessionIssuer) IssueAccessToken(userID, tenantID string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)
	claims := SessionClaims{
		UserID:   userID,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	return signed, expiresAt, err
}

// IssueRefreshToken mints a refresh token with a fresh JTI, returning both
// the signed token and the JTI the caller should persist for spent-token
// tracking (rotate-on-use).
func (s *SessionIssuer) IssueRefreshToken(userID string) (signed string, jti string, expiresAt time.Time, err error) {
	jti, err = randomNonce()
	if err != nil {
		return "", "", time.Time{}, err
	}
	now := time.Now()
	expiresAt = now.Add(s.refreshTTL)
	claims := RefreshClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err = token.SignedString(s.key)
	return signed, jti, expiresAt, err
}

// VerifyAccessToken parses and validates an access token.
func (s *SessionIssuer) VerifyAccessToken(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}

// VerifyRefreshToken parses and validates a refresh token. The caller is
// responsible for checking the JTI against its spent-token store.
func (s *SessionIssuer) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.ID == "" {
		return nil, errors.New("refresh token missing jti")
	}
	return claims, nil
}

func (s *SessionIssuer) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return s.key, nil
}

// NewOpaqueToken returns a random hex token, used where a JWT isn't needed
// (e.g. the QR pairing session correlation id).
func NewOpaqueToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
