package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// createTestStore opens a fresh database file under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

// createTestMutation creates a pending mutation with minimal required fields.
func createTestMutation(id string, entityType domain.EntityType, entityID string, op domain.Operation, seq int64, payload any) domain.Mutation {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return domain.Mutation{
		ID:         id,
		TenantID:   "tenant-1",
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    raw,
		Seq:        seq,
		State:      domain.StatePending,
		CreatedAt:  testEpoch,
		UpdatedAt:  testEpoch,
	}
}
