package store

import (
	"context"
	"database/sql"
	"fmt"
)

// HSet writes fields into the hash at key in one transaction.
func (s *PostgresStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO kv_hashes (key, field, value) VALUES ($1, $2, $3)
		 ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for field, value := range fields {
		if _, err := stmt.ExecContext(ctx, key, field, value); err != nil {
			return fmt.Errorf("hset %s.%s: %w", key, field, err)
		}
	}
	return tx.Commit()
}

// HGetAll returns every field of the hash at key; an absent key yields an empty map.
func (s *PostgresStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM kv_hashes WHERE key = $1`, key)
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	defer rows.Close()
	return scanFields(rows)
}

// ZAdd sets member's score in the sorted set at key.
func (s *PostgresStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_zsets (key, member, score) VALUES ($1, $2, $3)
		 ON CONFLICT (key, member) DO UPDATE SET score = EXCLUDED.score`,
		key, member, score)
	if err != nil {
		return fmt.Errorf("zadd: %w", err)
	}
	return nil
}

// ZRevRange returns members by descending score, start and stop inclusive. A negative stop reads to the end.
func (s *PostgresStore) ZRevRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	var limit interface{}
	if stop >= 0 {
		if stop < start {
			return []string{}, nil
		}
		limit = stop - start + 1
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM kv_zsets WHERE key = $1
		 ORDER BY score DESC, member DESC
		 LIMIT $2 OFFSET $3`,
		key, limit, start)
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}
	defer rows.Close()
	return scanMembers(rows)
}

func scanFields(rows *sql.Rows) (map[string]string, error) {
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

func scanMembers(rows *sql.Rows) ([]string, error) {
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
