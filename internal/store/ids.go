package store

import "github.com/google/uuid"

// IDGenerator allocates record identifiers.
// Identifiers must be globally unique and never reused.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 record identifiers.
//
// Format: "0190c1b2-7f3a-7c4e-9a51-2f6d8b1e0c47" (36 characters)
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
