package types

import "strings"

// OwnerID identifies the user that owns a task, conversation or message.
// It is an opaque identifier: compared for equality, never parsed.
type OwnerID string

func (o OwnerID) String() string {
	return string(o)
}

// Normalize trims surrounding whitespace from the identifier.
func (o OwnerID) Normalize() OwnerID {
	return OwnerID(strings.TrimSpace(string(o)))
}

// IsZero reports whether the identifier is empty after trimming.
func (o OwnerID) IsZero() bool {
	return strings.TrimSpace(string(o)) == ""
}
