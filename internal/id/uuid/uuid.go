// Package uuid provides the identifiers handed out by the gateway.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues time-ordered job ids and random template ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string. Job ids sort by creation time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewTemplateID returns a UUIDv4 string, the format stored template
// snapshots have always used.
func (Generator) NewTemplateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid4: %w", err)
	}
	return id.String(), nil
}

// ServerID returns the identity a gateway process stamps on its payloads.
// It falls back to the nil UUID only if the random source fails.
func ServerID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return uuid.Nil.String()
	}
	return id.String()
}
