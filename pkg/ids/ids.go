// Package ids generates and checks the identifiers used across the ledger.
package ids

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// RuntimePrefix marks short runtime instance identifiers.
const RuntimePrefix = "yai-rt-"

// NewEventID returns a fresh random (v4) event identifier.
func NewEventID() string { return uuid.NewString() }

// NewRunID returns a fresh random (v4) run identifier.
func NewRunID() string { return uuid.NewString() }

// NewMemoryID returns a fresh random (v4) memory identifier.
func NewMemoryID() string { return uuid.NewString() }

// IsUUID reports whether s is a UUID in canonical 8-4-4-4-12 hex form.
// Braced, URN and hyphen-less spellings accepted by uuid.Parse are rejected.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// RuntimeID returns a short identifier for one runtime process. It carries no
// timestamp and is only meant to tell concurrently running instances apart.
func RuntimeID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(err)
	}
	return RuntimePrefix + hex.EncodeToString(b[:])
}
