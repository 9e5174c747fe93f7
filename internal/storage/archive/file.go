package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"agent-resurrection/internal/checkpoint"
	arperrors "agent-resurrection/pkg/errors"
)

// FileStore 文件归档层：<dir>/<agent>_<sequence>.json，写临时文件后 os.Link 落盘，目标已存在时链接失败，绝不覆盖
type FileStore struct {
	dir string
}

// NewFileStore 在 dir 下创建文件归档层
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, arperrors.Wrap(arperrors.ErrInvalidArg, "file archive: empty dir")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	//nolint:gosec // checkpoint 目录需要可被运维读取
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) path(agentID string, sequence uint64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.json", escapeID(agentID), sequence))
}

// Locate 实现 Store
func (s *FileStore) Locate(agentID string, sequence uint64) string {
	return "file://" + s.path(agentID, sequence)
}

// Append 实现 Store
func (s *FileStore) Append(ctx context.Context, rec *checkpoint.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(s.dir, ".cold-*.tmp")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to write archived checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to sync archived checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	target := s.path(rec.AgentID, rec.Sequence)
	if err := os.Link(tmpPath, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			existing, gerr := s.Get(ctx, rec.AgentID, rec.Sequence)
			if gerr != nil {
				return false, gerr
			}
			return false, resolveExisting(existing, rec)
		}
		return false, fmt.Errorf("failed to commit archived checkpoint: %w", err)
	}
	return true, nil
}

// Get 实现 Store
func (s *FileStore) Get(ctx context.Context, agentID string, sequence uint64) (*checkpoint.Record, error) {
	p := s.path(agentID, sequence)
	data, err := os.ReadFile(p) //nolint:gosec // 路径由 escapeID 生成
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(agentID, sequence)
		}
		return nil, err
	}
	return decodeRecord(data, p)
}

// sequences 扫描目录得到 agent 的全部序号（升序）
func (s *FileStore) sequences(agentID string) ([]uint64, error) {
	prefix := escapeID(agentID) + "_"
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var seqs []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		// 前缀相同但余下部分不是纯数字的（如其他 agent 或 _hot.json）跳过
		seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"), 10, 64)
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

// Latest 实现 Store
func (s *FileStore) Latest(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	seqs, err := s.sequences(agentID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, noHistory(agentID)
	}
	return s.Get(ctx, agentID, seqs[len(seqs)-1])
}

// List 实现 Store
func (s *FileStore) List(ctx context.Context, agentID string) ([]*checkpoint.Record, error) {
	seqs, err := s.sequences(agentID)
	if err != nil {
		return nil, err
	}
	out := make([]*checkpoint.Record, 0, len(seqs))
	for _, seq := range seqs {
		rec, err := s.Get(ctx, agentID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Revoke 实现 Store
func (s *FileStore) Revoke(ctx context.Context, agentID string, sequence uint64) error {
	err := os.Remove(s.path(agentID, sequence))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Close 实现 Store
func (s *FileStore) Close() error {
	return nil
}
