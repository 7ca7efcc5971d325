package domain

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalIDPrefix marks ids assigned on the terminal before the remote store
// has acknowledged the entity.
const LocalIDPrefix = "local-"

// IDGenerator produces unique ids.
// Implemented by UUIDv7Generator (production) and SequenceGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns prefix-1, prefix-2, ... for deterministic tests
// and golden traces.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// NewLocalID returns a local-temporary id.
func NewLocalID(gen IDGenerator) string {
	return LocalIDPrefix + gen.Generate()
}

// IsLocalID reports whether id is still local-temporary.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
