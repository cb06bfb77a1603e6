// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 digesting for warrant artifacts.
//
// Every ledger stage uses this one primitive for record hashes, replay keys,
// governance-context digests, and decision fingerprints. Two values are
// considered identical by the pipeline exactly when their canonical digests
// are equal.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal returns the RFC 8785 canonical JSON encoding of v.
//
// The value is first marshaled with encoding/json (so struct tags are
// respected), then transformed to canonical form: keys sorted by UTF-8 bytes,
// no insignificant whitespace, no HTML escaping.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical encoding of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
