package iridiumshore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

// verifyRockBLOCKJWT checks an HS256-signed JWT's signature against
// secret. This is deliberately a standard-library HMAC check rather than
// a general JWT library: the pack carries no JWT dependency, and the
// gateway only ever signs with HS256, so hand-rolling the one algorithm
// actually in use is more honest than vendoring a general-purpose
// library for a single call site.
func verifyRockBLOCKJWT(token, secret string) error {
	if token == "" {
		return errors.New("missing jwt")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return errors.New("malformed jwt")
	}

	signed := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signed))
	expected := mac.Sum(nil)

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return errors.New("malformed jwt signature")
	}
	if !hmac.Equal(sig, expected) {
		return errors.New("jwt signature mismatch")
	}
	return nil
}
