package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signatureScheme = "sha256"

// ValidSHA256Signature recomputes the HMAC-SHA256 digest of body under secret
// and compares it to the "sha256=<hex>" header value in constant time. Any
// malformed header, wrong scheme, undecodable hex, or length mismatch fails
// closed. The secret and the computed digest are never surfaced to callers.
func ValidSHA256Signature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	scheme, encoded, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(scheme, signatureScheme) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	// hmac.Equal rejects mismatched lengths without branching on content.
	return hmac.Equal(mac.Sum(nil), provided)
}
