package store

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/roach88/weave/internal/merge"
)

// DomainUpdate prefixes update hashes. The version suffix allows a later
// algorithm change without colliding with stored IDs.
const DomainUpdate = "weave/update/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + part + 0x00 + part ...)
// The null byte separator prevents boundary ambiguity between parts.
func hashWithDomain(domain string, parts ...[]byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// UpdateID computes the content-addressed ID of an update payload for a
// document. The same bytes sent twice for one document share an ID.
func UpdateID(key merge.Key, payload []byte) string {
	return hashWithDomain(DomainUpdate, []byte(key.Workspace), []byte(key.Document), payload)
}
