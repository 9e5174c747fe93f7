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

package checkpoint

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-resurrection/pkg/errors"
)

func testSnapshot() Snapshot {
	return Snapshot{
		Identity: Blob{"public_key": "pk_agent:1", "address": "agent:1"},
		Memory:   Blob{"short_term": []any{"hello"}, "facts": map[string]any{"b": "2", "a": "1"}},
		Tasks:    Blob{"active": []any{}, "queued": []any{"t1"}},
		Context:  Blob{"session_id": "sess_0"},
	}
}

func TestNew_ComputesHash(t *testing.T) {
	rec, err := New("agent:1", 0, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)
	assert.Len(t, rec.StateHash, DefaultHashLength)
	assert.Empty(t, rec.StorageLocations)
	assert.NoError(t, rec.Verify())
}

func TestNew_EmptyAgentID(t *testing.T) {
	_, err := New("", 0, Snapshot{}, time.Now(), 0)
	assert.True(t, errors.Is(err, errors.ErrInvalidArg))
}

func TestNew_NilBlobsHashLikeEmpty(t *testing.T) {
	a, err := New("agent:1", 1, Snapshot{}, time.Now(), 0)
	require.NoError(t, err)
	b, err := New("agent:1", 1, Snapshot{Identity: Blob{}, Memory: Blob{}, Tasks: Blob{}}, time.Now(), 0)
	require.NoError(t, err)
	assert.Equal(t, a.StateHash, b.StateHash)
}

func TestComputeHash_ExcludesTimestampAndContext(t *testing.T) {
	snap := testSnapshot()
	a, err := New("agent:1", 2, snap, time.Unix(100, 0), 0)
	require.NoError(t, err)
	snap.Context = Blob{"session_id": "other"}
	b, err := New("agent:1", 2, snap, time.Unix(999, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, a.StateHash, b.StateHash)
}

func TestComputeHash_CoversSequenceAndState(t *testing.T) {
	base, err := New("agent:1", 2, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)

	seq, err := New("agent:1", 3, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, base.StateHash, seq.StateHash)

	snap := testSnapshot()
	snap.Memory["facts"] = map[string]any{"a": "changed"}
	mem, err := New("agent:1", 2, snap, time.Now(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, base.StateHash, mem.StateHash)

	other, err := New("agent:2", 2, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)
	assert.NotEqual(t, base.StateHash, other.StateHash)
}

func TestComputeHash_FullLength(t *testing.T) {
	rec, err := New("agent:1", 0, testSnapshot(), time.Now(), FullHashLength)
	require.NoError(t, err)
	assert.Len(t, rec.StateHash, FullHashLength)
	assert.NoError(t, rec.Verify())

	short, err := rec.ComputeHash(DefaultHashLength)
	require.NoError(t, err)
	assert.Equal(t, rec.StateHash[:DefaultHashLength], short)
}

func TestVerify_DetectsTampering(t *testing.T) {
	rec, err := New("agent:1", 0, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)

	tampered := rec.Clone()
	tampered.Tasks["queued"] = []any{"injected"}
	assert.True(t, errors.Is(tampered.Verify(), errors.ErrIntegrity))

	badLen := rec.Clone()
	badLen.StateHash = rec.StateHash[:8]
	assert.True(t, errors.Is(badLen.Verify(), errors.ErrIntegrity))

	// context 不在哈希范围内，修改后仍可校验通过
	ctxOnly := rec.Clone()
	ctxOnly.Context["session_id"] = "sess_9"
	assert.NoError(t, ctxOnly.Verify())
}

func TestVerify_SurvivesJSONRoundTrip(t *testing.T) {
	rec, err := New("agent:1", 7, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)
	data, err := json.Marshal(rec.WithLocations(map[string]string{"hot": "mem://x"}))
	require.NoError(t, err)

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.NoError(t, back.Verify())
	assert.Equal(t, rec.StateHash, back.StateHash)
	assert.True(t, rec.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, "mem://x", back.StorageLocations["hot"])
}

func TestClone_IsDeep(t *testing.T) {
	rec, err := New("agent:1", 0, testSnapshot(), time.Now(), 0)
	require.NoError(t, err)
	cp := rec.WithLocations(map[string]string{"hot": "a"})
	cp.Memory["facts"].(map[string]any)["a"] = "mutated"
	cp.StorageLocations["hot"] = "b"

	assert.Equal(t, "1", rec.Memory["facts"].(map[string]any)["a"])
	assert.Empty(t, rec.StorageLocations)
	assert.NoError(t, rec.Verify())
}

func TestNew_DoesNotAliasSnapshot(t *testing.T) {
	snap := testSnapshot()
	rec, err := New("agent:1", 0, snap, time.Now(), 0)
	require.NoError(t, err)
	snap.Identity["address"] = "hijacked"
	assert.NoError(t, rec.Verify())
	assert.Equal(t, "agent:1", rec.Identity["address"])
}
