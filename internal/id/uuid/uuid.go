// Package uuid generates time-ordered identifiers for jobs and documents.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator produces UUIDv7 identifiers, which sort by creation time.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7 string.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
