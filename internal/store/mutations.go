package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

const mutationColumns = `id, tenant_id, entity_type, entity_id, operation, payload,
	seq, attempts, state, last_error, next_attempt_at, created_at, updated_at`

// EnqueueMutation records m durably.
//
// When collapse is true and a pending mutation exists for the same
// tenant, entity and operation, its payload is replaced in place and the
// stored row is returned with collapsed=true. Otherwise m is inserted as is.
// Both paths run in one transaction.
func (s *Store) EnqueueMutation(ctx context.Context, m domain.Mutation, collapse bool) (stored domain.Mutation, collapsed bool, err error) {
	hash, err := domain.PayloadHash(m.Payload)
	if err != nil {
		return domain.Mutation{}, false, fmt.Errorf("enqueue mutation %s: %w", m.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mutation{}, false, fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()

	if collapse {
		existing, err := scanMutation(tx.QueryRowContext(ctx, `
			SELECT `+mutationColumns+` FROM mutations
			WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
			  AND operation = ? AND state = 'pending'
			ORDER BY seq DESC LIMIT 1
		`, m.TenantID, string(m.EntityType), m.EntityID, string(m.Operation)))
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `
				UPDATE mutations SET payload = ?, payload_hash = ?, updated_at = ?
				WHERE id = ?
			`, string(m.Payload), hash, toMillis(m.UpdatedAt), existing.ID); err != nil {
				return domain.Mutation{}, false, fmt.Errorf("replace payload %s: %w", existing.ID, err)
			}
			if err := tx.Commit(); err != nil {
				return domain.Mutation{}, false, fmt.Errorf("commit enqueue: %w", err)
			}
			existing.Payload = m.Payload
			existing.UpdatedAt = m.UpdatedAt
			return existing, true, nil
		case !errors.Is(err, ErrNotFound):
			return domain.Mutation{}, false, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mutations (`+mutationColumns+`, payload_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.TenantID, string(m.EntityType), m.EntityID, string(m.Operation), string(m.Payload),
		m.Seq, m.Attempts, string(m.State), m.LastError, toMillis(m.NextAttemptAt),
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt), hash,
	)
	if err != nil {
		return domain.Mutation{}, false, fmt.Errorf("insert mutation %s: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Mutation{}, false, fmt.Errorf("commit enqueue: %w", err)
	}
	return m, false, nil
}

// ReadMutation returns the mutation with id.
func (s *Store) ReadMutation(ctx context.Context, id string) (domain.Mutation, error) {
	m, err := scanMutation(s.db.QueryRowContext(ctx,
		`SELECT `+mutationColumns+` FROM mutations WHERE id = ?`, id))
	if err != nil {
		return domain.Mutation{}, fmt.Errorf("read mutation %s: %w", id, err)
	}
	return m, nil
}

// ListFilter narrows ListMutations. Zero fields match everything.
type ListFilter struct {
	TenantID   string
	State      domain.MutationState
	Unsynced   bool
	EntityType domain.EntityType
	EntityID   string
	Limit      int
}

// ListMutations returns mutations matching f in seq order.
func (s *Store) ListMutations(ctx context.Context, f ListFilter) ([]domain.Mutation, error) {
	var (
		where []string
		args  []any
	)
	if f.TenantID != "" {
		where = append(where, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Unsynced {
		where = append(where, "state != 'synced'")
	}
	if f.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, string(f.EntityType))
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}

	query := `SELECT ` + mutationColumns + ` FROM mutations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mutations: %w", err)
	}
	defer rows.Close()
	return collectMutations(rows)
}

// Heads returns, for every entity of tenant with unsynced mutations, the
// lowest-seq unsynced mutation, provided it is pending or failed and due
// at now. An entity whose head is still syncing or backing off yields
// nothing, which keeps later mutations of that entity behind it.
func (s *Store) Heads(ctx context.Context, tenantID string, now time.Time) ([]domain.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mutationColumns+` FROM mutations m
		WHERE m.tenant_id = ?
		  AND m.state IN ('pending', 'failed')
		  AND m.next_attempt_at <= ?
		  AND m.seq = (
			SELECT MIN(seq) FROM mutations
			WHERE tenant_id = m.tenant_id
			  AND entity_type = m.entity_type
			  AND entity_id = m.entity_id
			  AND state != 'synced'
		  )
		ORDER BY m.seq ASC
	`, tenantID, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query heads: %w", err)
	}
	defer rows.Close()
	return collectMutations(rows)
}

// NextAttemptAt returns the earliest scheduled retry among failed
// mutations of tenant, or the zero time if none is waiting.
func (s *Store) NextAttemptAt(ctx context.Context, tenantID string) (time.Time, error) {
	var next sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MIN(next_attempt_at) FROM mutations
		WHERE tenant_id = ? AND state = 'failed'
	`, tenantID).Scan(&next)
	if err != nil {
		return time.Time{}, fmt.Errorf("next attempt: %w", err)
	}
	if !next.Valid {
		return time.Time{}, nil
	}
	return fromMillis(next.Int64), nil
}

// StateUpdate carries the fields a state transition may change.
type StateUpdate struct {
	State         domain.MutationState
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	UpdatedAt     time.Time
}

// UpdateState applies u to the mutation with id.
func (s *Store) UpdateState(ctx context.Context, id string, u StateUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutations
		SET state = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`, string(u.State), u.Attempts, u.LastError, toMillis(u.NextAttemptAt), toMillis(u.UpdatedAt), id)
	if err != nil {
		return fmt.Errorf("update state %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update state %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update state %s: %w", id, ErrNotFound)
	}
	return nil
}

// CountUnsynced counts mutations of tenant that are not synced.
func (s *Store) CountUnsynced(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mutations WHERE tenant_id = ? AND state != 'synced'`,
		tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced: %w", err)
	}
	return n, nil
}

// CountUnsyncedForEntity counts unsynced mutations of one entity.
func (s *Store) CountUnsyncedForEntity(ctx context.Context, tenantID string, entityType domain.EntityType, entityID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mutations
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ? AND state != 'synced'
	`, tenantID, string(entityType), entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unsynced %s/%s: %w", entityType, entityID, err)
	}
	return n, nil
}

// MaxSeq returns the highest seq ever assigned, or 0 on an empty log.
// The queue resumes its logical clock from here on open.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM mutations`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}

// ResetSyncing returns mutations stranded in syncing by a crash to
// pending, or to failed when a newer pending write for the same entity and
// operation exists.
func (s *Store) ResetSyncing(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reset syncing: %w", err)
	}
	defer tx.Rollback()

	// A write queued while its predecessor was in flight already holds
	// the pending slot for that entity and operation. The interrupted row
	// becomes failed and due, so it keeps its seq and is never collapsed.
	parked, err := tx.ExecContext(ctx, `
		UPDATE mutations SET state = 'failed', next_attempt_at = updated_at
		WHERE state = 'syncing' AND EXISTS (
			SELECT 1 FROM mutations p
			WHERE p.state = 'pending'
			  AND p.tenant_id = mutations.tenant_id
			  AND p.entity_type = mutations.entity_type
			  AND p.entity_id = mutations.entity_id
			  AND p.operation = mutations.operation
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("reset syncing: %w", err)
	}
	reset, err := tx.ExecContext(ctx, `UPDATE mutations SET state = 'pending' WHERE state = 'syncing'`)
	if err != nil {
		return 0, fmt.Errorf("reset syncing: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reset syncing: %w", err)
	}

	n1, _ := parked.RowsAffected()
	n2, _ := reset.RowsAffected()
	return n1 + n2, nil
}

// RewriteEntityID replaces oldID with newID as the entity id of every
// mutation of tenant, and as a quoted JSON string inside the payload of
// every unsynced mutation. Returns the number of payloads rewritten.
func (s *Store) RewriteEntityID(ctx context.Context, tenantID string, entityType domain.EntityType, oldID, newID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin rewrite: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE mutations SET entity_id = ?
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
	`, newID, tenantID, string(entityType), oldID); err != nil {
		return 0, fmt.Errorf("rewrite entity id: %w", err)
	}

	oldQuoted, _ := json.Marshal(oldID)
	newQuoted, _ := json.Marshal(newID)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload FROM mutations
		WHERE tenant_id = ? AND state != 'synced' AND instr(payload, ?) > 0
	`, tenantID, string(oldQuoted))
	if err != nil {
		return 0, fmt.Errorf("scan payload references: %w", err)
	}
	type rewrite struct{ id, payload string }
	var pending []rewrite
	for rows.Next() {
		var r rewrite
		if err := rows.Scan(&r.id, &r.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan payload: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, r := range pending {
		payload := strings.ReplaceAll(r.payload, string(oldQuoted), string(newQuoted))
		hash, err := domain.PayloadHash([]byte(payload))
		if err != nil {
			return 0, fmt.Errorf("rehash %s: %w", r.id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE mutations SET payload = ?, payload_hash = ? WHERE id = ?`,
			payload, hash, r.id,
		); err != nil {
			return 0, fmt.Errorf("rewrite payload %s: %w", r.id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit rewrite: %w", err)
	}
	return len(pending), nil
}

// PruneSynced deletes synced mutations last updated before cutoff.
func (s *Store) PruneSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mutations WHERE state = 'synced' AND updated_at < ?`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune synced: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (domain.Mutation, error) {
	var (
		m                              domain.Mutation
		entityType, op, state, payload string
		nextAttempt, created, updated  int64
	)
	err := row.Scan(&m.ID, &m.TenantID, &entityType, &m.EntityID, &op, &payload,
		&m.Seq, &m.Attempts, &state, &m.LastError, &nextAttempt, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Mutation{}, ErrNotFound
	}
	if err != nil {
		return domain.Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}
	m.EntityType = domain.EntityType(entityType)
	m.Operation = domain.Operation(op)
	m.State = domain.MutationState(state)
	m.Payload = json.RawMessage(payload)
	m.NextAttemptAt = fromMillis(nextAttempt)
	m.CreatedAt = fromMillis(created)
	m.UpdatedAt = fromMillis(updated)
	return m, nil
}

func collectMutations(rows *sql.Rows) ([]domain.Mutation, error) {
	var out []domain.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}
	return out, nil
}
