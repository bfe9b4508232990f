package ids

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDsAreUUIDs(t *testing.T) {
	for _, id := range []string{NewEventID(), NewRunID(), NewMemoryID()} {
		assert.True(t, IsUUID(id), id)
	}
	assert.NotEqual(t, NewEventID(), NewEventID())
}

func TestIsUUID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"6ba7b810-9dad-11d1-80b4-00c04fd430c8", true},
		{"", false},
		{"not-a-uuid", false},
		{"6ba7b8109dad11d180b400c04fd430c8", false},
		{"{6ba7b810-9dad-11d1-80b4-00c04fd430c8}", false},
		{"urn:uuid:6ba7b810-9dad-11d1-80b4-00c04fd430c8", false},
		{"6ba7b810-9dad-11d1-80b4-00c04fd430cz", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsUUID(tt.in), tt.in)
	}
}

func TestRuntimeID(t *testing.T) {
	id := RuntimeID()
	assert.True(t, strings.HasPrefix(id, RuntimePrefix))
	assert.Len(t, id, len(RuntimePrefix)+8)
	assert.NotEqual(t, id, RuntimeID())
}
