package syncer

import (
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Warning kinds.
const (
	WarnInventory   = "inventory_reconciliation"
	WarnConflict    = "version_conflict"
	WarnRejected    = "rejected"
	WarnSideEffects = "side_effects"
)

// Warning is a non-fatal business outcome shown to the cashier. The write
// it refers to is not retried.
type Warning struct {
	Kind       string            `json:"kind"`
	EntityType domain.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	MutationID string            `json:"mutation_id,omitempty"`
	Code       string            `json:"code,omitempty"`
	Message    string            `json:"message"`
	At         time.Time         `json:"at"`
}

// Report summarizes one drain.
type Report struct {
	Rounds   int       `json:"rounds"`
	Sent     int       `json:"sent"`
	Synced   int       `json:"synced"`
	Failed   int       `json:"failed"`
	Rejected int       `json:"rejected"`
	Deferred int       `json:"deferred"`
	Skipped  bool      `json:"skipped,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
	// Reconciled maps local-temporary ids to the server ids that
	// replaced them during this drain.
	Reconciled map[string]string `json:"reconciled,omitempty"`
}
