package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"agent-resurrection/internal/checkpoint"
)

// SQLiteStore 基于 SQLite 的单机归档层（database/sql + modernc 纯 Go 驱动）
type SQLiteStore struct {
	db   *sql.DB
	name string
}

// OpenSQLite 打开 dsn 指向的 SQLite 文件并迁移表结构
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "checkpoints.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite 单写者，避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(ctx, db, dsn)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore 使用已有 *sql.DB，name 仅用于定位符
func NewSQLiteStore(ctx context.Context, db *sql.DB, name string) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, name: name}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS checkpoint_archive (
        agent_id   TEXT    NOT NULL,
        sequence   INTEGER NOT NULL,
        state_hash TEXT    NOT NULL,
        created_at DATETIME NOT NULL,
        record     TEXT    NOT NULL,
        PRIMARY KEY (agent_id, sequence)
    );`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate checkpoint_archive: %w", err)
	}
	return nil
}

// Locate 实现 Store
func (s *SQLiteStore) Locate(agentID string, sequence uint64) string {
	return fmt.Sprintf("sqlite://%s/checkpoint_archive/%s/%d", s.name, escapeID(agentID), sequence)
}

// Append 实现 Store
func (s *SQLiteStore) Append(ctx context.Context, rec *checkpoint.Record) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoint_archive (agent_id, sequence, state_hash, created_at, record)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (agent_id, sequence) DO NOTHING`,
		rec.AgentID, int64(rec.Sequence), rec.StateHash, rec.Timestamp, string(data))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	existing, err := s.Get(ctx, rec.AgentID, rec.Sequence)
	if err != nil {
		return false, err
	}
	return false, resolveExisting(existing, rec)
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) ([]byte, error) {
	var data string
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		return nil, err
	}
	return []byte(data), nil
}

// Get 实现 Store
func (s *SQLiteStore) Get(ctx context.Context, agentID string, sequence uint64) (*checkpoint.Record, error) {
	data, err := s.queryOne(ctx,
		`SELECT record FROM checkpoint_archive WHERE agent_id = ? AND sequence = ?`,
		agentID, int64(sequence))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(agentID, sequence)
		}
		return nil, err
	}
	return decodeRecord(data, "checkpoint_archive "+agentID)
}

// Latest 实现 Store
func (s *SQLiteStore) Latest(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	data, err := s.queryOne(ctx,
		`SELECT record FROM checkpoint_archive WHERE agent_id = ? ORDER BY sequence DESC LIMIT 1`,
		agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, noHistory(agentID)
		}
		return nil, err
	}
	return decodeRecord(data, "checkpoint_archive "+agentID)
}

// List 实现 Store
func (s *SQLiteStore) List(ctx context.Context, agentID string) ([]*checkpoint.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM checkpoint_archive WHERE agent_id = ? ORDER BY sequence`,
		agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*checkpoint.Record, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord([]byte(data), "checkpoint_archive "+agentID)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Revoke 实现 Store
func (s *SQLiteStore) Revoke(ctx context.Context, agentID string, sequence uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoint_archive WHERE agent_id = ? AND sequence = ?`,
		agentID, int64(sequence))
	return err
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
