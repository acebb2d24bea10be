package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// BridgeToken authenticates the worker's bridge-event forwarding calls back
// to the control service. It is a static, non-expiring capability derived
// from a shared secret rather than a JWT, since the forwarding direction
// runs opposite the control→worker action-token model and the token is not
// scoped to any tenant or action.
func BridgeToken(key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("nexusd-bridge-ingest"))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyBridgeToken compares a presented token against the expected value
// for key in constant time.
func VerifyBridgeToken(key []byte, presented string) bool {
	want := BridgeToken(key)
	return subtle.ConstantTimeCompare([]byte(want), []byte(presented)) == 1
}
