// Package id mints job identifiers.
package id

import "github.com/google/uuid"

// New returns a random UUIDv4 job id.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an id from New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
