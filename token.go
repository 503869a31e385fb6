package hoist

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer signs and verifies resource paths with HMAC-SHA256.
//
// A token is the hex digest of the canonical resource path, keyed with the
// configured secret. Verification is a pure function of (path, token): no
// stored state, no expiry. The caller canonicalizes the path first, stripping
// the mount prefix and the token segment itself, so the signature covers the
// resource path independent of where the service is mounted.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the given secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the token for the given canonical resource path.
func (s *Signer) Sign(path string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(path))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether token is the exact signature of path. The
// comparison is constant time and accepts nothing but the full signed value,
// no prefixes or truncations.
func (s *Signer) Verify(path, token string) bool {
	expected := s.Sign(path)
	return hmac.Equal([]byte(expected), []byte(token))
}

// SignedPath prepends the token segment to a canonical resource path,
// producing the path component of a shareable attachment URL. The resource
// path must start with "/".
func (s *Signer) SignedPath(resource string) string {
	return "/" + s.Sign(resource) + resource
}
