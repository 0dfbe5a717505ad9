// Package idgen provides random ID generation for entries and requests.
package idgen

import "github.com/google/uuid"

// New generates a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}
