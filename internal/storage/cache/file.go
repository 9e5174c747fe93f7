package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/errors"
)

// FileStore 文件快速层：每个 agent 一个 <id>_hot.json，写临时文件后 rename 覆盖
type FileStore struct {
	dir string
}

// NewFileStore 在 dir 下创建文件快速层
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "file cache: empty dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // checkpoint 目录需要可被运维读取
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure checkpoint dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) path(agentID string) string {
	return filepath.Join(s.dir, escapeID(agentID)+"_hot.json")
}

// Locate 实现 Store
func (s *FileStore) Locate(agentID string) string {
	return "file://" + s.path(agentID)
}

// Put 实现 Store
func (s *FileStore) Put(ctx context.Context, rec *checkpoint.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hot checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, ".hot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write hot checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync hot checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path(rec.AgentID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit hot checkpoint: %w", err)
	}
	return nil
}

// Get 实现 Store
func (s *FileStore) Get(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	p := s.path(agentID)
	data, err := os.ReadFile(p) //nolint:gosec // 路径由 escapeID 生成
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(errors.ErrNotFound, "hot tier: %s", agentID)
		}
		return nil, err
	}
	return decodeRecord(data, p)
}

// Delete 实现 Store
func (s *FileStore) Delete(ctx context.Context, agentID string) error {
	err := os.Remove(s.path(agentID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close 实现 Store
func (s *FileStore) Close() error {
	return nil
}
