package record

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Checksum computes a deterministic fingerprint of a payload.
//
// The payload is serialized to canonical JSON (encoding/json emits map keys
// in sorted order at every nesting level) and hashed with xxhash64, so equal
// payloads produce equal checksums regardless of key insertion order.
// Cryptographic strength is not required here; the checksum is only a cheap
// equality test before falling back to deep comparison.
//
// Returns a SerializationError if the payload cannot be serialized.
func Checksum(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &SerializationError{Op: "checksum", Err: err}
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data)), nil
}

// MustChecksum is Checksum for payloads known to be serializable,
// such as payloads that were just decoded from JSON. Panics otherwise.
func MustChecksum(payload map[string]any) string {
	sum, err := Checksum(payload)
	if err != nil {
		panic(err)
	}
	return sum
}
