package backend

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/internal/storage/archive"
	"agent-resurrection/internal/storage/cache"
	"agent-resurrection/pkg/errors"
)

type failingFast struct {
	cache.Store
	putErr error
}

func (f *failingFast) Put(ctx context.Context, rec *checkpoint.Record) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Store.Put(ctx, rec)
}

type failingArchive struct {
	archive.Store
	appendErr error
	revoked   []uint64
}

func (f *failingArchive) Append(ctx context.Context, rec *checkpoint.Record) (bool, error) {
	if f.appendErr != nil {
		return false, f.appendErr
	}
	return f.Store.Append(ctx, rec)
}

func (f *failingArchive) Revoke(ctx context.Context, agentID string, seq uint64) error {
	f.revoked = append(f.revoked, seq)
	return f.Store.Revoke(ctx, agentID, seq)
}

func record(t *testing.T, agentID string, seq uint64, note string) *checkpoint.Record {
	t.Helper()
	rec, err := checkpoint.New(agentID, seq, checkpoint.Snapshot{
		Identity: checkpoint.Blob{"address": agentID},
		Memory:   checkpoint.Blob{"note": note},
		Tasks:    checkpoint.Blob{"active": []any{}},
	}, time.Now(), 0)
	require.NoError(t, err)
	return rec
}

func archiveOnly(t *testing.T, arch archive.Store, rec *checkpoint.Record) {
	t.Helper()
	inserted, err := arch.Append(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)
}

func newMemBackend(t *testing.T, opts ...Option) (*Backend, *cache.MemoryStore, *archive.MemoryStore) {
	t.Helper()
	fast := cache.NewMemoryStore()
	arch := archive.NewMemoryStore()
	b, err := New(fast, arch, opts...)
	require.NoError(t, err)
	return b, fast, arch
}

func TestNew_RequiresTiers(t *testing.T) {
	_, err := New(nil, archive.NewMemoryStore())
	assert.True(t, errors.Is(err, errors.ErrInvalidArg))
	_, err = New(cache.NewMemoryStore(), nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidArg))
}

func TestSave_ReturnsLocatorPerTier(t *testing.T) {
	b, _, _ := newMemBackend(t)
	rec := record(t, "agent:1", 0, "a")

	locs, err := b.Save(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "mem://hot/agent%3A1", locs["hot"])
	assert.Equal(t, "mem://cold/agent%3A1/0", locs["cold"])
	assert.Equal(t, "ipfs://Qm"+rec.StateHash, locs["ipfs"])
	assert.Equal(t, "arweave://"+rec.StateHash, locs["arweave"])
	assert.Empty(t, rec.StorageLocations, "caller's record must not be mutated")

	loaded, err := b.Load(context.Background(), "agent:1")
	require.NoError(t, err)
	assert.Equal(t, rec.StateHash, loaded.StateHash)
	assert.Equal(t, locs, loaded.StorageLocations)
}

func TestSave_CustomSchemes(t *testing.T) {
	b, _, _ := newMemBackend(t, WithSchemes([]string{"arweave"}))
	locs, err := b.Save(context.Background(), record(t, "a", 0, "x"))
	require.NoError(t, err)
	assert.Len(t, locs, 3)
	assert.NotContains(t, locs, "ipfs")
}

func TestSave_FastTierHoldsLatestArchiveKeepsAll(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()
	for seq := uint64(0); seq < 5; seq++ {
		_, err := b.Save(ctx, record(t, "A", seq, fmt.Sprint(seq)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fast.Len())
	hot, err := fast.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), hot.Sequence)

	list, err := arch.List(ctx, "A")
	require.NoError(t, err)
	require.Len(t, list, 5)

	hist, err := b.History(ctx, "A")
	require.NoError(t, err)
	for i, rec := range hist {
		assert.Equal(t, uint64(i), rec.Sequence)
	}
}

func TestSave_RejectsInvalidHash(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	rec := record(t, "A", 0, "x")
	rec.Memory["note"] = "tampered"

	_, err := b.Save(context.Background(), rec)
	assert.True(t, errors.Is(err, errors.ErrIntegrity))
	assert.Equal(t, 0, fast.Len())
	list, _ := arch.List(context.Background(), "A")
	assert.Empty(t, list)
}

func TestSave_FastFailureRevokesArchive(t *testing.T) {
	arch := &failingArchive{Store: archive.NewMemoryStore()}
	fast := &failingFast{Store: cache.NewMemoryStore(), putErr: fmt.Errorf("redis down")}
	b, err := New(fast, arch)
	require.NoError(t, err)
	ctx := context.Background()

	locs, err := b.Save(ctx, record(t, "A", 0, "x"))
	require.Error(t, err)
	assert.Nil(t, locs)
	assert.True(t, errors.Is(err, errors.ErrStorageWrite))
	var te *errors.TierError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "hot", te.Tier)
	assert.Equal(t, []uint64{0}, arch.revoked)

	_, err = b.Load(ctx, "A")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "no partial record may be observable: %v", err)

	// 恢复后重试同一序号成功
	fast.putErr = nil
	_, err = b.Save(ctx, record(t, "A", 0, "x"))
	require.NoError(t, err)
}

func TestSave_ArchiveFailureLeavesFastUntouched(t *testing.T) {
	arch := &failingArchive{Store: archive.NewMemoryStore()}
	fast := cache.NewMemoryStore()
	b, err := New(fast, arch)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Save(ctx, record(t, "A", 0, "x"))
	require.NoError(t, err)

	arch.appendErr = fmt.Errorf("bucket unavailable")
	_, err = b.Save(ctx, record(t, "A", 1, "y"))
	var te *errors.TierError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "cold", te.Tier)

	latest, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), latest.Sequence)
}

func TestSave_ConflictingSequence(t *testing.T) {
	b, _, _ := newMemBackend(t)
	ctx := context.Background()
	_, err := b.Save(ctx, record(t, "A", 0, "x"))
	require.NoError(t, err)
	_, err = b.Save(ctx, record(t, "A", 0, "other"))
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.True(t, errors.Is(err, errors.ErrStorageWrite))

	latest, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "x", latest.Memory["note"])
}

func TestSave_CancelledContextPersistsNothing(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Save(ctx, record(t, "A", 0, "x"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fast.Len())
	list, _ := arch.List(context.Background(), "A")
	assert.Empty(t, list)
}

func TestLoad_NotFound(t *testing.T) {
	b, _, _ := newMemBackend(t)
	_, err := b.Load(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = b.History(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = b.Load(context.Background(), "")
	assert.True(t, errors.Is(err, errors.ErrInvalidArg))
}

func TestLoad_FallsBackToArchiveAndWarms(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()
	for seq := uint64(0); seq < 3; seq++ {
		archiveOnly(t, arch, record(t, "A", seq, "v"))
	}

	rec, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Sequence)

	hot, err := fast.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hot.Sequence)
}

func TestLoad_NoWarm(t *testing.T) {
	b, fast, arch := newMemBackend(t, WithWarmOnLoad(false))
	ctx := context.Background()
	archiveOnly(t, arch, record(t, "A", 0, "v"))

	_, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, fast.Len())
}

func TestLoad_DetectsTampering(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()

	bad := record(t, "A", 0, "v")
	bad.Memory["note"] = "tampered"
	require.NoError(t, fast.Put(ctx, bad))
	_, err := b.Load(ctx, "A")
	assert.True(t, errors.Is(err, errors.ErrIntegrity))

	require.NoError(t, fast.Delete(ctx, "A"))
	archiveOnly(t, arch, bad)
	_, err = b.Load(ctx, "A")
	assert.True(t, errors.Is(err, errors.ErrIntegrity))
	assert.Equal(t, 0, fast.Len(), "a record failing verification must not be warmed")
}

func TestLoad_FileTiersSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	open := func() *Backend {
		fast, err := cache.NewFileStore(dir)
		require.NoError(t, err)
		arch, err := archive.NewFileStore(dir)
		require.NoError(t, err)
		b, err := New(fast, arch)
		require.NoError(t, err)
		return b
	}

	b1 := open()
	for seq := uint64(0); seq < 3; seq++ {
		_, err := b1.Save(ctx, record(t, "agent:x", seq, "v"))
		require.NoError(t, err)
	}
	require.NoError(t, b1.Close())

	b2 := open()
	rec, err := b2.Load(ctx, "agent:x")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Sequence)
	hist, err := b2.History(ctx, "agent:x")
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestSave_ConcurrentAgents(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()
	const agents, perAgent = 8, 10

	var wg sync.WaitGroup
	for a := 0; a < agents; a++ {
		wg.Add(1)
		go func(a int) {
			defer wg.Done()
			id := fmt.Sprintf("agent:%d", a)
			for seq := uint64(0); seq < perAgent; seq++ {
				rec, err := checkpoint.New(id, seq, checkpoint.Snapshot{}, time.Now(), 0)
				if !assert.NoError(t, err) {
					return
				}
				_, err = b.Save(ctx, rec)
				assert.NoError(t, err)
			}
		}(a)
	}
	wg.Wait()

	assert.Equal(t, agents, fast.Len())
	for a := 0; a < agents; a++ {
		id := fmt.Sprintf("agent:%d", a)
		list, err := arch.List(ctx, id)
		require.NoError(t, err)
		assert.Len(t, list, perAgent)
		latest, err := b.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, uint64(perAgent-1), latest.Sequence)
	}
	assert.Equal(t, 0, b.locks.size())
}

func TestSave_RejectsSequenceNotAboveLatest(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()
	for seq := uint64(0); seq < 4; seq++ {
		_, err := b.Save(ctx, record(t, "A", seq, "v"))
		require.NoError(t, err)
	}

	// 与归档中 seq 0 内容完全相同，但已不是最新：不能把 latest 拉回去
	_, err := b.Save(ctx, record(t, "A", 0, "v"))
	assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)
	assert.True(t, errors.Is(err, errors.ErrStorageWrite))
	_, err = b.Save(ctx, record(t, "A", 2, "v"))
	assert.True(t, errors.Is(err, errors.ErrConflict), "got %v", err)

	// 最新记录的原样重试仍然成功
	_, err = b.Save(ctx, record(t, "A", 3, "v"))
	require.NoError(t, err)

	hot, err := fast.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), hot.Sequence)
	latest, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.Sequence)
	list, err := arch.List(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestSave_RetryWithFastFailureKeepsExistingArchiveEntry(t *testing.T) {
	arch := &failingArchive{Store: archive.NewMemoryStore()}
	fast := &failingFast{Store: cache.NewMemoryStore(), putErr: fmt.Errorf("redis down")}
	b, err := New(fast, arch)
	require.NoError(t, err)
	ctx := context.Background()

	rec := record(t, "A", 0, "x")
	archiveOnly(t, arch.Store, rec)

	_, err = b.Save(ctx, record(t, "A", 0, "x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageWrite))
	assert.Empty(t, arch.revoked, "an entry this save did not add must not be revoked")

	got, err := arch.Get(ctx, "A", 0)
	require.NoError(t, err)
	assert.Equal(t, rec.StateHash, got.StateHash)
}

func TestLoad_ArchiveAheadOfFastTier(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()
	_, err := b.Save(ctx, record(t, "A", 0, "v"))
	require.NoError(t, err)
	// 归档写入成功后、快速层写入前中断
	archiveOnly(t, arch, record(t, "A", 1, "next"))

	rec, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)
	assert.Equal(t, "next", rec.Memory["note"])

	hot, err := fast.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hot.Sequence, "fast tier should be repaired")

	// 从较新的记录继续，不会卡在冲突上
	_, err = b.Save(ctx, record(t, "A", 2, "after"))
	require.NoError(t, err)
	latest, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.Sequence)
}

func TestLoad_ArchiveAheadWithoutWarm(t *testing.T) {
	b, fast, arch := newMemBackend(t, WithWarmOnLoad(false))
	ctx := context.Background()
	_, err := b.Save(ctx, record(t, "A", 0, "v"))
	require.NoError(t, err)
	archiveOnly(t, arch, record(t, "A", 1, "next"))

	rec, err := b.Load(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.Sequence)
	hot, err := fast.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hot.Sequence)

	_, err = b.Save(ctx, record(t, "A", 2, "after"))
	require.NoError(t, err)
}

func TestLoad_ArchiveAheadButTampered(t *testing.T) {
	b, fast, arch := newMemBackend(t)
	ctx := context.Background()
	_, err := b.Save(ctx, record(t, "A", 0, "v"))
	require.NoError(t, err)
	bad := record(t, "A", 1, "next")
	bad.Memory["note"] = "tampered"
	archiveOnly(t, arch, bad)

	_, err = b.Load(ctx, "A")
	assert.True(t, errors.Is(err, errors.ErrIntegrity))
	hot, err := fast.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hot.Sequence)
}
