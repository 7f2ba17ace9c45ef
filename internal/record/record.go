// Package record provides the data structures for synchronized records.
//
// A Record is the unit of cross-device synchronization: a category-scoped
// payload carrying the version counter, owning device and content checksum
// that the sync engine uses to detect and resolve divergence. Records are
// CRDT-friendly with flat metadata fields and last-write-wins semantics;
// the checksum lets the engine short-circuit equality checks without deep
// payload comparison.
package record

import (
	"fmt"
	"strings"
	"time"
)

// Record represents a single versioned, checksummed unit of synchronized data.
type Record struct {
	// ID is the composite key "category:itemID", unique within the store.
	ID string `json:"id"`

	// Category groups records for scoped sync and indexed lookups.
	Category string `json:"category"`

	// Payload is the structured user data. Nested values decoded from JSON
	// are map[string]any, which keeps checksum computation canonical.
	Payload map[string]any `json:"payload"`

	// ===== Sync metadata (conflict resolution) =====

	// Timestamp is when this version of the record was written.
	Timestamp time.Time `json:"timestamp"`

	// DeviceID identifies the device that produced this version.
	DeviceID string `json:"deviceId"`

	// Version is a per-id monotonic counter, incremented on every local write.
	Version int64 `json:"version"`

	// Checksum is a deterministic fingerprint of Payload. Two records with
	// equal checksums are content-equal regardless of Version or Timestamp.
	Checksum string `json:"checksum"`
}

// ComposeID builds the composite record key from a category and item id.
//
// Example:
//
//	id := record.ComposeID("health", "1") // "health:1"
func ComposeID(category, itemID string) string {
	return category + ":" + itemID
}

// SplitID splits a composite record key back into category and item id.
func SplitID(id string) (category, itemID string, err error) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("malformed record id %q: want category:itemID", id)
	}
	return id[:idx], id[idx+1:], nil
}

// NextVersion returns the version number for the next local write.
// The store supplies the current version, or 0 when the id is unknown.
func NextVersion(current int64) int64 {
	return current + 1
}

// Validate checks that the record carries the fields sync depends on.
func (r *Record) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if r.Category == "" {
		return &ValidationError{Field: "category", Reason: "is required"}
	}
	if !strings.HasPrefix(r.ID, r.Category+":") {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("does not match category %q", r.Category)}
	}
	if r.Version < 1 {
		return &ValidationError{Field: "version", Reason: fmt.Sprintf("must be positive (got %d)", r.Version)}
	}
	if r.Checksum == "" {
		return &ValidationError{Field: "checksum", Reason: "is required"}
	}
	return ValidatePayload(r.Category, r.Payload)
}
