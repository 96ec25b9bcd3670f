package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashDeviceCode returns a SHA-256 hash of the device code, hex-encoded.
// Device codes are stored and compared only in this form.
func HashDeviceCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// DeviceCodeHashEqual performs constant-time comparison of the provided code's hash
// with the stored hash. Returns true only if they match.
func DeviceCodeHashEqual(providedCode, storedHash string) bool {
	providedHash := HashDeviceCode(providedCode)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}

// Fingerprint returns a short, non-reversible identifier for a secret value, safe to log.
// Empty input yields an empty fingerprint.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	return HashDeviceCode(secret)[:12]
}
