package domain

import (
	"encoding/json"
	"time"
)

// EntityType names the kind of entity a mutation targets.
type EntityType string

const (
	EntityOrder    EntityType = "order"
	EntityCustomer EntityType = "customer"
	EntityTable    EntityType = "table"
	EntityPayment  EntityType = "payment"
)

// Operation is the write a mutation performs.
type Operation string

const (
	OpCreate          Operation = "create"
	OpSetStatus       Operation = "set_status"
	OpUpdateItems     Operation = "update_items"
	OpSetPayment      Operation = "set_payment"
	OpUpdate          Operation = "update"
	OpDeductInventory Operation = "deduct_inventory"
	OpSetTransactions Operation = "set_transactions"
)

// Collapsible reports whether a pending mutation with this operation may
// have its payload replaced in place by a newer one for the same entity.
// Creates and inventory deductions carry side effects and are never merged.
func (op Operation) Collapsible() bool {
	switch op {
	case OpCreate, OpDeductInventory:
		return false
	}
	return true
}

// MutationState tracks a mutation through the sync engine.
type MutationState string

const (
	StatePending MutationState = "pending"
	StateSyncing MutationState = "syncing"
	StateFailed  MutationState = "failed"
	StateSynced  MutationState = "synced"
)

// Mutation is a durable, idempotent record of an intended remote write.
type Mutation struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Operation  Operation       `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	// Seq comes from a persisted logical clock. It is global, hence
	// monotonic per entity as well.
	Seq           int64         `json:"seq"`
	Attempts      int           `json:"attempts"`
	State         MutationState `json:"state"`
	LastError     string        `json:"last_error,omitempty"`
	NextAttemptAt time.Time     `json:"next_attempt_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Unsynced reports whether the mutation still has to reach the remote store.
func (m Mutation) Unsynced() bool {
	return m.State != StateSynced
}

// EntityKey identifies the ordering lane of a mutation.
func (m Mutation) EntityKey() string {
	return string(m.EntityType) + ":" + m.EntityID
}
