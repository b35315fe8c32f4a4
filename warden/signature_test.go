package warden

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)

	cases := []struct {
		name   string
		secret string
		header string
		want   SignatureResult
	}{
		{"valid", "s3cret", sign("s3cret", body), SignatureValid},
		{"wrong secret", "s3cret", sign("other", body), SignatureInvalid},
		{"missing header", "s3cret", "", SignatureInvalid},
		{"missing prefix", "s3cret", hex.EncodeToString([]byte("junk")), SignatureInvalid},
		{"not hex", "s3cret", "sha256=zzzz", SignatureInvalid},
		{"no secret configured", "", "", SignatureUnsigned},
		{"no secret ignores header", "", sign("whatever", body), SignatureUnsigned},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, VerifySignature(tc.secret, body, tc.header))
		})
	}
}

func TestVerifySignatureTamperedBody(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	header := sign("s3cret", body)

	tampered := []byte(`{"ref":"refs/heads/evil"}`)
	assert.Equal(t, SignatureInvalid, VerifySignature("s3cret", tampered, header))
}
