package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// signer produces the HMAC-SHA256 request signature the futures API expects
// over the query string.
type signer struct {
	secret []byte
}

func newSigner(secret string) *signer {
	return &signer{secret: []byte(secret)}
}

// Sign returns the hex signature of the given query string.
func (s *signer) Sign(query string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
