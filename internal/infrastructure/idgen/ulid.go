// Package idgen issues sortable identifiers for escrows.
package idgen

import (
	"github.com/oklog/ulid/v2"
)

// ULIDGenerator generates ULID-based IDs.
type ULIDGenerator struct{}

// NewULIDGenerator creates a new ULIDGenerator.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{}
}

// Generate returns a new ULID. IDs from one process sort by creation time.
func (g *ULIDGenerator) Generate() string {
	return ulid.Make().String()
}
