package remote

import (
	"context"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Ack is the remote acknowledgement of an applied mutation.
type Ack struct {
	// ServerID is set when a create assigned a server id.
	ServerID string `json:"server_id,omitempty"`
	// Version is the remote version of the entity after the write.
	Version int64 `json:"version"`
}

// SnapshotSource loads the reference data of a tenant.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, tenantID string) (domain.Snapshot, error)
}

// Applier applies one mutation. Implementations must be idempotent by
// mutation id: applying the same id twice returns the first Ack and has
// no further effect.
type Applier interface {
	Apply(ctx context.Context, m domain.Mutation) (Ack, error)
}

// Prober reports whether the remote store is reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Remote is the full boundary.
type Remote interface {
	SnapshotSource
	Applier
	Prober
}

// Payload fields read by every implementation.
const (
	FieldExpectedVersion = "expected_version"
	FieldTerminalID      = "terminal_id"
	FieldItems           = "items"
	FieldPhone           = "phone"
)

// InventoryLine is one product quantity of a deduct_inventory payload.
type InventoryLine struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// InventoryPayload is the payload of a deduct_inventory mutation.
type InventoryPayload struct {
	OrderID string          `json:"order_id"`
	Items   []InventoryLine `json:"items"`
}
