package record

import "fmt"

// ValidationError reports a malformed record or payload.
// Validation failures are rejected at the store boundary and never
// enter the sync pipeline.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// SerializationError reports a payload that could not be serialized or
// deserialized. It is fatal to the single operation that hit it and must
// not corrupt the store.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed during %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
