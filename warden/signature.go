package warden

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type SignatureResult int

const (
	// SignatureUnsigned means the integration has no secret configured
	// and verification was skipped. A deliberate bootstrap allowance,
	// always logged, never a hidden bypass.
	SignatureUnsigned SignatureResult = iota
	SignatureValid
	SignatureInvalid
)

// VerifySignature checks the X-Hub-Signature-256 header against an
// HMAC-SHA256 of the raw body. The comparison is constant-time; a
// missing or malformed header with a configured secret fails closed.
func VerifySignature(secret string, body []byte, header string) SignatureResult {
	if secret == "" {
		return SignatureUnsigned
	}

	digest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return SignatureInvalid
	}

	got, err := hex.DecodeString(digest)
	if err != nil {
		return SignatureInvalid
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return SignatureInvalid
	}

	return SignatureValid
}
