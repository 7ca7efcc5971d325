package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// PostgresSchema creates the tables the adapter reads and writes.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS pos_snapshots (
    tenant_id  TEXT PRIMARY KEY,
    body       JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pos_entities (
    tenant_id   TEXT   NOT NULL,
    entity_type TEXT   NOT NULL,
    entity_id   TEXT   NOT NULL,
    body        JSONB  NOT NULL,
    version     BIGINT NOT NULL,
    last_writer TEXT   NOT NULL DEFAULT '',
    PRIMARY KEY (tenant_id, entity_type, entity_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS pos_customers_phone
    ON pos_entities (tenant_id, (body->>'phone'))
    WHERE entity_type = 'customer';

CREATE TABLE IF NOT EXISTS pos_applied_mutations (
    mutation_id TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    server_id   TEXT NOT NULL DEFAULT '',
    version     BIGINT NOT NULL DEFAULT 0,
    applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pos_stock (
    tenant_id  TEXT    NOT NULL,
    product_id TEXT    NOT NULL,
    on_hand    INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, product_id)
);

CREATE TABLE IF NOT EXISTS pos_inventory_deductions (
    tenant_id   TEXT NOT NULL,
    order_id    TEXT NOT NULL,
    mutation_id TEXT NOT NULL,
    PRIMARY KEY (tenant_id, order_id)
);
`

// PgxPool is the subset of *pgxpool.Pool the adapter uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Postgres applies mutations directly to a Postgres database.
type Postgres struct {
	pool  PgxPool
	close func()
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool PgxPool) *Postgres {
	return &Postgres{pool: pool, close: func() {}}
}

// ConnectPostgres opens a pool for databaseURL and ensures the schema.
func ConnectPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{pool: pool, close: pool.Close}
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates missing tables.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool if the adapter opened it.
func (p *Postgres) Close() {
	p.close()
}

// Probe implements Prober.
func (p *Postgres) Probe(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// FetchSnapshot implements SnapshotSource.
func (p *Postgres) FetchSnapshot(ctx context.Context, tenantID string) (domain.Snapshot, error) {
	var body []byte
	err := p.pool.QueryRow(ctx, `SELECT body FROM pos_snapshots WHERE tenant_id = $1`, tenantID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Snapshot{}, NewBusinessError(CodeNotFound, "no snapshot for tenant %s", tenantID)
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// Apply implements Applier. The mutation and its idempotency record are
// written in one transaction.
func (p *Postgres) Apply(ctx context.Context, m domain.Mutation) (Ack, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: begin: %v", ErrUnreachable, err)
	}
	defer tx.Rollback(ctx)

	var ack Ack
	err = tx.QueryRow(ctx,
		`SELECT server_id, version FROM pos_applied_mutations WHERE mutation_id = $1`, m.ID,
	).Scan(&ack.ServerID, &ack.Version)
	if err == nil {
		return ack, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Ack{}, fmt.Errorf("check applied %s: %w", m.ID, err)
	}

	body, err := decodePayload(m.Payload)
	if err != nil {
		return Ack{}, err
	}

	switch m.Operation {
	case domain.OpCreate:
		ack, err = p.create(ctx, tx, m, body)
	case domain.OpDeductInventory:
		ack, err = p.deduct(ctx, tx, m)
	default:
		ack, err = p.update(ctx, tx, m, body)
	}
	if err != nil {
		return Ack{}, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pos_applied_mutations (mutation_id, tenant_id, server_id, version)
		VALUES ($1, $2, $3, $4)
	`, m.ID, m.TenantID, ack.ServerID, ack.Version)
	if err != nil {
		if isUniqueViolation(err) {
			// Another process applied the same id concurrently.
			return p.readAck(ctx, m.ID)
		}
		return Ack{}, fmt.Errorf("record applied %s: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Ack{}, fmt.Errorf("commit %s: %w", m.ID, err)
	}
	return ack, nil
}

func (p *Postgres) readAck(ctx context.Context, mutationID string) (Ack, error) {
	var ack Ack
	err := p.pool.QueryRow(ctx,
		`SELECT server_id, version FROM pos_applied_mutations WHERE mutation_id = $1`, mutationID,
	).Scan(&ack.ServerID, &ack.Version)
	if err != nil {
		return Ack{}, fmt.Errorf("read ack %s: %w", mutationID, err)
	}
	return ack, nil
}

func (p *Postgres) create(ctx context.Context, tx pgx.Tx, m domain.Mutation, body map[string]any) (Ack, error) {
	if m.EntityType == domain.EntityCustomer {
		if phone, _ := body[FieldPhone].(string); phone != "" {
			var ack Ack
			err := tx.QueryRow(ctx, `
				SELECT entity_id, version FROM pos_entities
				WHERE tenant_id = $1 AND entity_type = 'customer' AND body->>'phone' = $2
			`, m.TenantID, phone).Scan(&ack.ServerID, &ack.Version)
			if err == nil {
				return ack, nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return Ack{}, fmt.Errorf("lookup customer phone: %w", err)
			}
		}
	}

	id := m.EntityID
	if id == "" || domain.IsLocalID(id) {
		id = uuid.NewString()
	}
	writer, _ := body[FieldTerminalID].(string)
	delete(body, FieldTerminalID)
	delete(body, FieldExpectedVersion)
	body["id"] = id

	doc, err := json.Marshal(body)
	if err != nil {
		return Ack{}, NewBusinessError(CodeInvalidPayload, "encode body: %v", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO pos_entities (tenant_id, entity_type, entity_id, body, version, last_writer)
		VALUES ($1, $2, $3, $4, 1, $5)
		ON CONFLICT (tenant_id, entity_type, entity_id) DO NOTHING
	`, m.TenantID, string(m.EntityType), id, doc, writer)
	if err != nil {
		return Ack{}, fmt.Errorf("insert %s: %w", m.EntityType, err)
	}
	return Ack{ServerID: id, Version: 1}, nil
}

func (p *Postgres) update(ctx context.Context, tx pgx.Tx, m domain.Mutation, body map[string]any) (Ack, error) {
	var (
		version    int64
		lastWriter string
	)
	err := tx.QueryRow(ctx, `
		SELECT version, last_writer FROM pos_entities
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
		FOR UPDATE
	`, m.TenantID, string(m.EntityType), m.EntityID).Scan(&version, &lastWriter)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if m.EntityType != domain.EntityTable {
			return Ack{}, NewBusinessError(CodeNotFound, "%s %s does not exist", m.EntityType, m.EntityID)
		}
	case err != nil:
		return Ack{}, fmt.Errorf("lock %s %s: %w", m.EntityType, m.EntityID, err)
	}

	writer, err := checkVersion(version, lastWriter, body)
	if err != nil {
		return Ack{}, err
	}
	delete(body, FieldTerminalID)
	delete(body, FieldExpectedVersion)

	patch, err := json.Marshal(body)
	if err != nil {
		return Ack{}, NewBusinessError(CodeInvalidPayload, "encode patch: %v", err)
	}

	var next int64
	err = tx.QueryRow(ctx, `
		INSERT INTO pos_entities (tenant_id, entity_type, entity_id, body, version, last_writer)
		VALUES ($1, $2, $3, jsonb_build_object('id', $3::text) || $4::jsonb, 1, $5)
		ON CONFLICT (tenant_id, entity_type, entity_id) DO UPDATE SET
			body = pos_entities.body || excluded.body,
			version = pos_entities.version + 1,
			last_writer = excluded.last_writer
		RETURNING version
	`, m.TenantID, string(m.EntityType), m.EntityID, patch, writer).Scan(&next)
	if err != nil {
		return Ack{}, fmt.Errorf("update %s %s: %w", m.EntityType, m.EntityID, err)
	}
	return Ack{Version: next}, nil
}

func (p *Postgres) deduct(ctx context.Context, tx pgx.Tx, m domain.Mutation) (Ack, error) {
	var payload InventoryPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return Ack{}, NewBusinessError(CodeInvalidPayload, "deduct_inventory: %v", err)
	}
	if payload.OrderID == "" {
		payload.OrderID = m.EntityID
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO pos_inventory_deductions (tenant_id, order_id, mutation_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, order_id) DO NOTHING
	`, m.TenantID, payload.OrderID, m.ID)
	if err != nil {
		return Ack{}, fmt.Errorf("record deduction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Ack{}, nil
	}

	for _, line := range payload.Items {
		tag, err := tx.Exec(ctx, `
			UPDATE pos_stock SET on_hand = on_hand - $3
			WHERE tenant_id = $1 AND product_id = $2 AND on_hand >= $3
		`, m.TenantID, line.ProductID, line.Quantity)
		if err != nil {
			return Ack{}, fmt.Errorf("deduct %s: %w", line.ProductID, err)
		}
		if tag.RowsAffected() > 0 {
			continue
		}
		var onHand int
		err = tx.QueryRow(ctx,
			`SELECT on_hand FROM pos_stock WHERE tenant_id = $1 AND product_id = $2`,
			m.TenantID, line.ProductID,
		).Scan(&onHand)
		if errors.Is(err, pgx.ErrNoRows) {
			// Untracked product.
			continue
		}
		if err != nil {
			return Ack{}, fmt.Errorf("read stock %s: %w", line.ProductID, err)
		}
		return Ack{}, NewBusinessError(CodeInsufficientStock,
			"product %s: need %d, have %d", line.ProductID, line.Quantity, onHand)
	}
	return Ack{}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
