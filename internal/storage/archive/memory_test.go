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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/config"
	"agent-resurrection/pkg/errors"
)

func newRecord(t *testing.T, agentID string, seq uint64, note string) *checkpoint.Record {
	t.Helper()
	rec, err := checkpoint.New(agentID, seq, checkpoint.Snapshot{
		Identity: checkpoint.Blob{"address": agentID},
		Memory:   checkpoint.Blob{"note": note},
		Tasks:    checkpoint.Blob{"active": []any{}, "queued": []any{}},
		Context:  checkpoint.Blob{"session_id": "sess"},
	}, time.Now(), 0)
	require.NoError(t, err)
	return rec
}

// mustAppend 追加并断言确实新增了记录
func mustAppend(t *testing.T, s Store, rec *checkpoint.Record) {
	t.Helper()
	inserted, err := s.Append(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted, "%s should be a new entry", rec.Key())
}

// runStoreContract 各归档层实现共用的行为校验
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	const agent = "agent:contract"

	_, err := s.Latest(ctx, agent)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "Latest on empty: %v", err)
	_, err = s.Get(ctx, agent, 0)
	assert.True(t, errors.Is(err, errors.ErrNotFound), "Get on empty: %v", err)
	list, err := s.List(ctx, agent)
	require.NoError(t, err)
	assert.Empty(t, list)

	// 乱序追加，List 仍按序号升序
	for _, seq := range []uint64{2, 0, 1, 10} {
		mustAppend(t, s, newRecord(t, agent, seq, "v"))
	}
	mustAppend(t, s, newRecord(t, "agent:other", 99, "v"))

	list, err = s.List(ctx, agent)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for i, want := range []uint64{0, 1, 2, 10} {
		assert.Equal(t, want, list[i].Sequence)
		assert.NoError(t, list[i].Verify())
	}

	latest, err := s.Latest(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), latest.Sequence)

	// 相同内容重复追加：幂等，且不算新增
	inserted, err := s.Append(ctx, newRecord(t, agent, 1, "v"))
	require.NoError(t, err)
	assert.False(t, inserted)
	// 不同内容：冲突，原记录不变
	inserted, err = s.Append(ctx, newRecord(t, agent, 1, "different"))
	assert.True(t, errors.Is(err, errors.ErrConflict), "conflicting append: %v", err)
	assert.False(t, inserted)
	got, err := s.Get(ctx, agent, 1)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Memory["note"])

	// Revoke 仅删除指定序号
	require.NoError(t, s.Revoke(ctx, agent, 10))
	require.NoError(t, s.Revoke(ctx, agent, 10))
	latest, err = s.Latest(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Sequence)

	assert.NotEqual(t, s.Locate(agent, 1), s.Locate(agent, 2))
	assert.Equal(t, s.Locate(agent, 1), s.Locate(agent, 1))
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_CancelledAppend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	inserted, err := s.Append(ctx, newRecord(t, "agent:1", 0, "v"))
	assert.Error(t, err)
	assert.False(t, inserted)
	list, err := s.List(context.Background(), "agent:1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewArchive(t *testing.T) {
	ctx := context.Background()
	s, err := NewArchive(ctx, config.ArchiveTierConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = NewArchive(ctx, config.ArchiveTierConfig{Type: "file", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = NewArchive(ctx, config.ArchiveTierConfig{Type: "ipfs"})
	assert.Error(t, err)

	_, err = NewArchive(ctx, config.ArchiveTierConfig{Type: "s3"})
	assert.True(t, errors.Is(err, errors.ErrInvalidArg))
}
