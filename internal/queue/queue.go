package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
	"github.com/airoxlab/bizposcash-sub002/internal/store"
)

// ErrInvalidMutation is returned by Enqueue for a mutation missing its
// tenant, entity or operation.
var ErrInvalidMutation = errors.New("invalid mutation")

// Queue is the durable mutation log of one terminal.
//
// Thread-safety: Queue is safe for concurrent use. Writes serialize on the
// single SQLite connection of the store.
type Queue struct {
	store   *store.Store
	seq     *SeqClock
	ids     domain.IDGenerator
	now     func() time.Time
	backoff Backoff
	logger  *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator sets the generator for mutation ids.
func WithIDGenerator(gen domain.IDGenerator) Option {
	return func(q *Queue) { q.ids = gen }
}

// WithNow sets the wall clock used for timestamps and backoff.
func WithNow(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBackoff sets the retry schedule.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) { q.backoff = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// Open binds a queue to st. Mutations left in syncing by a previous
// process are returned to pending, and the logical clock resumes after the
// highest persisted seq.
func Open(ctx context.Context, st *store.Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		store:   st,
		ids:     domain.UUIDv7Generator{},
		now:     time.Now,
		backoff: Backoff{Base: DefaultBaseBackoff, Max: DefaultMaxBackoff},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}

	reset, err := st.ResetSyncing(ctx)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if reset > 0 {
		q.logger.Info("returned interrupted mutations to pending", "count", reset)
	}

	maxSeq, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	q.seq = NewSeqClockAt(maxSeq)
	return q, nil
}

// Request describes a write to enqueue.
type Request struct {
	TenantID   string
	EntityType domain.EntityType
	EntityID   string
	Operation  domain.Operation
	Payload    any
}

// Enqueue records r durably and returns the stored mutation.
//
// If a pending mutation already exists for the same tenant, entity and a
// collapsible operation, its payload is replaced and that mutation (same
// id, same seq) is returned.
func (q *Queue) Enqueue(ctx context.Context, r Request) (domain.Mutation, error) {
	if r.TenantID == "" || r.EntityType == "" || r.EntityID == "" || r.Operation == "" {
		return domain.Mutation{}, fmt.Errorf("%w: tenant=%q entity=%s/%q op=%q",
			ErrInvalidMutation, r.TenantID, r.EntityType, r.EntityID, r.Operation)
	}

	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return domain.Mutation{}, fmt.Errorf("enqueue %s %s/%s: marshal payload: %w", r.Operation, r.EntityType, r.EntityID, err)
	}

	now := q.now().UTC()
	m := domain.Mutation{
		ID:         q.ids.Generate(),
		TenantID:   r.TenantID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Operation:  r.Operation,
		Payload:    payload,
		Seq:        q.seq.Next(),
		State:      domain.StatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	stored, collapsed, err := q.store.EnqueueMutation(ctx, m, r.Operation.Collapsible())
	if err != nil {
		return domain.Mutation{}, fmt.Errorf("enqueue %s %s/%s: %w", r.Operation, r.EntityType, r.EntityID, err)
	}

	if collapsed {
		q.logger.Debug("collapsed pending mutation",
			"mutation_id", stored.ID,
			"entity", stored.EntityKey(),
			"operation", stored.Operation,
			"seq", stored.Seq)
	} else {
		q.logger.Debug("enqueued mutation",
			"mutation_id", stored.ID,
			"entity", stored.EntityKey(),
			"operation", stored.Operation,
			"seq", stored.Seq)
	}
	return stored, nil
}

// Get returns the mutation with id.
func (q *Queue) Get(ctx context.Context, id string) (domain.Mutation, error) {
	return q.store.ReadMutation(ctx, id)
}

// MarkSyncing records that the sync engine is sending m.
func (q *Queue) MarkSyncing(ctx context.Context, id string) error {
	m, err := q.store.ReadMutation(ctx, id)
	if err != nil {
		return err
	}
	if m.State == domain.StateSynced {
		return fmt.Errorf("mark syncing %s: already synced", id)
	}
	return q.store.UpdateState(ctx, id, store.StateUpdate{
		State:         domain.StateSyncing,
		Attempts:      m.Attempts,
		LastError:     m.LastError,
		NextAttemptAt: m.NextAttemptAt,
		UpdatedAt:     q.now().UTC(),
	})
}

// MarkSynced records a remote acknowledgement. Marking a synced mutation
// again is a no-op.
func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	m, err := q.store.ReadMutation(ctx, id)
	if err != nil {
		return err
	}
	if m.State == domain.StateSynced {
		return nil
	}
	return q.store.UpdateState(ctx, id, store.StateUpdate{
		State:     domain.StateSynced,
		Attempts:  m.Attempts,
		UpdatedAt: q.now().UTC(),
	})
}

// MarkFailed increments attempts and schedules the next retry.
// Returns the time the mutation becomes due again.
func (q *Queue) MarkFailed(ctx context.Context, id, reason string) (time.Time, error) {
	m, err := q.store.ReadMutation(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if m.State == domain.StateSynced {
		return time.Time{}, fmt.Errorf("mark failed %s: already synced", id)
	}

	now := q.now().UTC()
	attempts := m.Attempts + 1
	next := now.Add(q.backoff.Delay(attempts))
	if err := q.store.UpdateState(ctx, id, store.StateUpdate{
		State:         domain.StateFailed,
		Attempts:      attempts,
		LastError:     reason,
		NextAttemptAt: next,
		UpdatedAt:     now,
	}); err != nil {
		return time.Time{}, err
	}

	q.logger.Warn("mutation failed",
		"mutation_id", id,
		"entity", m.EntityKey(),
		"operation", m.Operation,
		"attempts", attempts,
		"retry_at", next,
		"error", reason)
	return next, nil
}

// MarkRejected records a permanent business rejection. The mutation will
// not be retried. It counts as synced so later mutations of the entity can
// proceed, and keeps reason as its last error.
func (q *Queue) MarkRejected(ctx context.Context, id, reason string) error {
	m, err := q.store.ReadMutation(ctx, id)
	if err != nil {
		return err
	}
	return q.store.UpdateState(ctx, id, store.StateUpdate{
		State:     domain.StateSynced,
		Attempts:  m.Attempts + 1,
		LastError: reason,
		UpdatedAt: q.now().UTC(),
	})
}

// PendingCount is the number of mutations of tenant not yet synced.
func (q *Queue) PendingCount(ctx context.Context, tenantID string) (int, error) {
	return q.store.CountUnsynced(ctx, tenantID)
}

// HasUnsynced reports whether an entity still has unsynced mutations.
func (q *Queue) HasUnsynced(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) (bool, error) {
	n, err := q.store.CountUnsyncedForEntity(ctx, tenantID, entityType, entityID)
	return n > 0, err
}

// Heads returns the mutations the sync engine may send now: the first
// unsynced mutation of each entity, if it is due.
func (q *Queue) Heads(ctx context.Context, tenantID string) ([]domain.Mutation, error) {
	return q.store.Heads(ctx, tenantID, q.now())
}

// NextRetryAt returns when the earliest failed mutation becomes due, or
// the zero time.
func (q *Queue) NextRetryAt(ctx context.Context, tenantID string) (time.Time, error) {
	return q.store.NextAttemptAt(ctx, tenantID)
}

// List returns mutations matching f in seq order.
func (q *Queue) List(ctx context.Context, f store.ListFilter) ([]domain.Mutation, error) {
	return q.store.ListMutations(ctx, f)
}

// Unsynced returns every unsynced mutation of tenant in seq order.
func (q *Queue) Unsynced(ctx context.Context, tenantID string) ([]domain.Mutation, error) {
	return q.store.ListMutations(ctx, store.ListFilter{TenantID: tenantID, Unsynced: true})
}

// RewriteEntityID replaces a local-temporary id with the server id in
// entity ids and unsynced payloads.
func (q *Queue) RewriteEntityID(ctx context.Context, tenantID string, entityType domain.EntityType, oldID, newID string) error {
	n, err := q.store.RewriteEntityID(ctx, tenantID, entityType, oldID, newID)
	if err != nil {
		return fmt.Errorf("rewrite %s %s -> %s: %w", entityType, oldID, newID, err)
	}
	q.logger.Info("rewrote local id in queue",
		"entity_type", entityType,
		"old_id", oldID,
		"new_id", newID,
		"payloads", n)
	return nil
}

// Prune drops synced mutations older than retain.
func (q *Queue) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	return q.store.PruneSynced(ctx, q.now().Add(-retain))
}

// CurrentSeq returns the last assigned seq.
func (q *Queue) CurrentSeq() int64 {
	return q.seq.Current()
}
