package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the request body.
const SignatureHeader = "X-Line-Signature"

// Verifier checks webhook bodies against the channel secret
type Verifier struct {
	secret []byte
}

func NewVerifier(channelSecret string) *Verifier {
	return &Verifier{secret: []byte(strings.TrimSpace(channelSecret))}
}

// Verify reports whether signature is the keyed hash of body. Malformed
// headers and mismatches both yield false.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	// Strict rejects non-zero padding bits, so every character of the header counts.
	decoded, err := base64.StdEncoding.Strict().DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, v.sum(body))
}

// Sign returns the header value the platform would send for body.
func (v *Verifier) Sign(body []byte) string {
	return base64.StdEncoding.EncodeToString(v.sum(body))
}

func (v *Verifier) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
