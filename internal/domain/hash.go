package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix leaves room for
// an algorithm change.
const (
	DomainPayload = "bizpos/payload/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash hashes the canonical form of a JSON payload, so two payloads
// that differ only in key order or whitespace hash equally.
func PayloadHash(payload []byte) (string, error) {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	canonical, err := CanonicalizeJSON(payload)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}
