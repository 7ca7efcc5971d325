package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})

	assert.True(t, isUniqueViolation(wrapped))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
}

func TestPostgresSchema_DeclaresIdempotencyTable(t *testing.T) {
	assert.Contains(t, PostgresSchema, "pos_applied_mutations")
	assert.Contains(t, PostgresSchema, "mutation_id TEXT PRIMARY KEY")
}
