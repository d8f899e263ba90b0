package sqlite

import (
	"context"
	"fmt"
)

// HSet writes fields into the hash at key in one transaction.
func (db *DB) HSet(ctx context.Context, key string, fields map[string]string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for field, value := range fields {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv_hashes (key, field, value) VALUES (?, ?, ?)
			ON CONFLICT(key, field) DO UPDATE SET value = excluded.value
		`, key, field, value); err != nil {
			return fmt.Errorf("hset %s.%s: %w", key, field, err)
		}
	}
	return tx.Commit()
}

// HGetAll returns every field of the hash at key; an absent key yields an empty map.
func (db *DB) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT field, value FROM kv_hashes WHERE key = ?`, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		out[field] = value
	}
	return out, rows.Err()
}

// ZAdd sets member's score in the sorted set at key.
func (db *DB) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO kv_zsets (key, member, score) VALUES (?, ?, ?)
		ON CONFLICT(key, member) DO UPDATE SET score = excluded.score
	`, key, member, score)
	if err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// ZRevRange returns members by descending score, start and stop inclusive. A negative stop reads to the end.
func (db *DB) ZRevRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	limit := -1 // SQLite: no limit
	if stop >= 0 {
		if stop < start {
			return []string{}, nil
		}
		limit = stop - start + 1
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT member FROM kv_zsets WHERE key = ?
		ORDER BY score DESC, member DESC
		LIMIT ? OFFSET ?
	`, key, limit, start)
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	defer func() { _ = rows.Close() }()

	members := []string{}
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
