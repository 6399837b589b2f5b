package tunehub

import (
	"crypto/sha256"
	"encoding/hex"
)

// Signer derives the request signature the aggregator verifies: the SHA-256
// of the request path and query concatenated with the client build
// fingerprint and the shared secret, hex encoded.
type Signer struct {
	fingerprint string
	secret      string
}

func NewSigner(fingerprint, secret string) *Signer {
	return &Signer{fingerprint: fingerprint, secret: secret}
}

// Sign computes the signature for a path with query, e.g.
// "/api?source=netease&id=123&type=url&br=999".
func (s *Signer) Sign(path string) string {
	sum := sha256.Sum256([]byte(path + s.fingerprint + s.secret))
	return hex.EncodeToString(sum[:])
}
