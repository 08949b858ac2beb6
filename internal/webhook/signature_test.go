package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func TestVerifierAcceptsPlatformSignature(t *testing.T) {
	body := []byte(`{"destination":"Ubot","events":[]}`)
	v := NewVerifier("channel_secret")

	assert.True(t, v.Verify(body, signBody("channel_secret", body)))
	assert.Equal(t, signBody("channel_secret", body), v.Sign(body))
}

func TestVerifierRejectsBodyBitFlips(t *testing.T) {
	body := []byte(`{"events":[{"type":"follow"}]}`)
	v := NewVerifier("channel_secret")
	signature := signBody("channel_secret", body)

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			if v.Verify(mutated, signature) {
				t.Fatalf("flipping bit %d of byte %d still verified", bit, i)
			}
		}
	}
}

func TestVerifierRejectsSignatureBitFlips(t *testing.T) {
	v := NewVerifier("channel_secret")

	for _, body := range [][]byte{[]byte(`{"events":[]}`), []byte(`{"destination":"Ubot","events":[{"type":"follow"}]}`)} {
		signature := v.Sign(body)
		for i := range signature {
			for bit := 0; bit < 8; bit++ {
				mutated := []byte(signature)
				mutated[i] ^= 1 << bit
				if v.Verify(body, string(mutated)) {
					t.Fatalf("signature %q: flipping bit %d of char %d gave %q, still verified", signature, bit, i, mutated)
				}
			}
		}
	}
}

func TestVerifierRejectsNonCanonicalPadding(t *testing.T) {
	body := []byte(`{"events":[]}`)
	v := NewVerifier("channel_secret")
	raw, err := base64.StdEncoding.DecodeString(v.Sign(body))
	require.NoError(t, err)

	// 32 bytes leave two unused bits in the last character before '='.
	signature := []byte(base64.StdEncoding.EncodeToString(raw))
	signature[len(signature)-2] = base64Alphabet[strings.IndexByte(base64Alphabet, signature[len(signature)-2])|1]

	assert.False(t, v.Verify(body, string(signature)))
}

func TestVerifierRejectsMalformedInput(t *testing.T) {
	body := []byte(`{"events":[]}`)

	cases := map[string]struct {
		secret    string
		signature string
	}{
		"empty header":   {"channel_secret", ""},
		"not base64":     {"channel_secret", "%%%not-base64%%%"},
		"wrong secret":   {"channel_secret", signBody("other_secret", body)},
		"truncated":      {"channel_secret", signBody("channel_secret", body)[:10]},
		"missing secret": {"", signBody("", body)},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, NewVerifier(tc.secret).Verify(body, tc.signature))
		})
	}
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
