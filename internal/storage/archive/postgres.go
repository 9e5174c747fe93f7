// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agent-resurrection/internal/checkpoint"
)

// archiveSchema checkpoint_archive 表；(agent_id, sequence) 为主键，保证同一序号只写一次
const archiveSchema = `
CREATE TABLE IF NOT EXISTS checkpoint_archive (
	agent_id   TEXT        NOT NULL,
	sequence   BIGINT      NOT NULL,
	state_hash TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	record     JSONB       NOT NULL,
	PRIMARY KEY (agent_id, sequence)
)`

// PostgresStore PostgreSQL 归档层，多进程共享
type PostgresStore struct {
	pool *pgxpool.Pool
	host string
}

// NewPostgresStore 创建基于 PostgreSQL 的归档层并确保表存在
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, archiveSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure checkpoint_archive: %w", err)
	}
	return &PostgresStore{pool: pool, host: cfg.ConnConfig.Host}, nil
}

// Locate 实现 Store
func (s *PostgresStore) Locate(agentID string, sequence uint64) string {
	return fmt.Sprintf("postgres://%s/checkpoint_archive/%s/%d", s.host, escapeID(agentID), sequence)
}

// Append 实现 Store
func (s *PostgresStore) Append(ctx context.Context, rec *checkpoint.Record) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoint_archive (agent_id, sequence, state_hash, created_at, record)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (agent_id, sequence) DO NOTHING`,
		rec.AgentID, int64(rec.Sequence), rec.StateHash, rec.Timestamp, data,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	existing, err := s.Get(ctx, rec.AgentID, rec.Sequence)
	if err != nil {
		return false, err
	}
	return false, resolveExisting(existing, rec)
}

func (s *PostgresStore) scanOne(row pgx.Row, agentID string, sequence uint64, latest bool) (*checkpoint.Record, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if latest {
				return nil, noHistory(agentID)
			}
			return nil, notFound(agentID, sequence)
		}
		return nil, err
	}
	return decodeRecord(data, fmt.Sprintf("checkpoint_archive %s", agentID))
}

// Get 实现 Store
func (s *PostgresStore) Get(ctx context.Context, agentID string, sequence uint64) (*checkpoint.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM checkpoint_archive WHERE agent_id = $1 AND sequence = $2`,
		agentID, int64(sequence))
	return s.scanOne(row, agentID, sequence, false)
}

// Latest 实现 Store
func (s *PostgresStore) Latest(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT record FROM checkpoint_archive WHERE agent_id = $1 ORDER BY sequence DESC LIMIT 1`,
		agentID)
	return s.scanOne(row, agentID, 0, true)
}

// List 实现 Store
func (s *PostgresStore) List(ctx context.Context, agentID string) ([]*checkpoint.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record FROM checkpoint_archive WHERE agent_id = $1 ORDER BY sequence`,
		agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*checkpoint.Record, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(data, "checkpoint_archive "+agentID)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Revoke 实现 Store
func (s *PostgresStore) Revoke(ctx context.Context, agentID string, sequence uint64) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoint_archive WHERE agent_id = $1 AND sequence = $2`,
		agentID, int64(sequence))
	return err
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
