package record

import (
	"fmt"
	"regexp"
	"sync"
)

// categoryPattern restricts category names to lowercase identifiers so that
// composite ids stay unambiguous and category-scoped queries stay simple.
var categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// SchemaFunc validates a category payload at the store boundary.
// Payloads stay "any structured data" on the wire; schemas only pin down
// the fields the application depends on per category.
type SchemaFunc func(payload map[string]any) error

var (
	schemasMu sync.RWMutex
	schemas   = map[string]SchemaFunc{}
)

// RegisterSchema installs a payload schema for a category, replacing any
// previous schema. Categories without a schema accept any non-nil payload.
func RegisterSchema(category string, schema SchemaFunc) {
	schemasMu.Lock()
	defer schemasMu.Unlock()
	schemas[category] = schema
}

// ValidatePayload checks a category/payload pair against the registered
// schema for that category. Unknown categories are permissive: the store
// accepts any structured payload for them.
func ValidatePayload(category string, payload map[string]any) error {
	if category == "" {
		return &ValidationError{Field: "category", Reason: "is required"}
	}
	if !categoryPattern.MatchString(category) {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("%q is not a valid category name", category)}
	}
	if payload == nil {
		return &ValidationError{Field: "payload", Reason: "is required"}
	}

	schemasMu.RLock()
	schema := schemas[category]
	schemasMu.RUnlock()

	if schema == nil {
		return nil
	}
	return schema(payload)
}

// RequireFields returns a SchemaFunc checking that each named field is
// present in the payload. Used for the application's built-in categories.
func RequireFields(fields ...string) SchemaFunc {
	return func(payload map[string]any) error {
		for _, f := range fields {
			if _, ok := payload[f]; !ok {
				return &ValidationError{Field: "payload." + f, Reason: "is required"}
			}
		}
		return nil
	}
}

func init() {
	// Built-in categories of the carelog application. Everything else is
	// treated as free-form structured data.
	RegisterSchema("medications", RequireFields("name"))
	RegisterSchema("health", RequireFields())
	RegisterSchema("settings", RequireFields())
}
