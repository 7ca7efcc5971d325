package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a key or mutation does not exist.
var ErrNotFound = errors.New("not found")

// GetValue returns the value stored under key for tenant.
// Returns ErrNotFound if the key is absent.
func (s *Store) GetValue(ctx context.Context, tenantID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE tenant_id = ? AND key = ?`,
		tenantID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get value %s/%s: %w", tenantID, key, err)
	}
	return value, nil
}

// SetValues writes all entries in one transaction, so a crash never
// leaves half of a cache snapshot on disk.
func (s *Store) SetValues(ctx context.Context, tenantID string, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set values: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO kv (tenant_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare set values: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for key, value := range entries {
		if _, err := stmt.ExecContext(ctx, tenantID, key, value, now); err != nil {
			return fmt.Errorf("set value %s/%s: %w", tenantID, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set values: %w", err)
	}
	return nil
}

// DeleteValues removes keys for tenant. Missing keys are ignored.
func (s *Store) DeleteValues(ctx context.Context, tenantID string, keys ...string) error {
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM kv WHERE tenant_id = ? AND key = ?`, tenantID, key,
		); err != nil {
			return fmt.Errorf("delete value %s/%s: %w", tenantID, key, err)
		}
	}
	return nil
}

// ListKeys returns the keys of tenant starting with prefix, sorted.
func (s *Store) ListKeys(ctx context.Context, tenantID, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE tenant_id = ? AND substr(key, 1, ?) = ?
		ORDER BY key ASC
	`, tenantID, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// LoadValues returns the values of keys that exist for tenant.
// Missing keys are absent from the result.
func (s *Store) LoadValues(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		v, err := s.GetValue(ctx, tenantID, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}
