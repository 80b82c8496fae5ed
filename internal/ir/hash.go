package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEntry = "syncbook/entry/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryID computes the identity of an entry from its pipeline and key.
func EntryID(pipelineID string, key EntryKey) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"pipeline_id": pipelineID,
		"file_path":   key.FilePath,
		"phase":       key.Phase.String(),
	})
	if err != nil {
		return "", fmt.Errorf("EntryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical), nil
}

// MustEntryID is like EntryID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEntryID(pipelineID string, key EntryKey) string {
	id, err := EntryID(pipelineID, key)
	if err != nil {
		panic(err)
	}
	return id
}
