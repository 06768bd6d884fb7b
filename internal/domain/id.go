// Package domain id.go contains functions to generate and validate post IDs
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a new random identifier suitable for posts and albums.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether s can be embedded in a store key. IDs are opaque but
// must be non-empty and must not contain the key separator.
func ValidID(s string) bool {
	return s != "" && !strings.Contains(s, "/")
}
