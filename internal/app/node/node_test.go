package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-resurrection/internal/resurrection"
	"agent-resurrection/pkg/config"
	"agent-resurrection/pkg/errors"
)

func fileConfig(t *testing.T, interval string) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Storage.Fast.Type = "file"
	cfg.Storage.Fast.Dir = dir
	cfg.Storage.Archive.Type = "file"
	cfg.Storage.Archive.Dir = dir
	cfg.Checkpoint.Interval = interval
	cfg.Log.Level = "error"
	return cfg
}

func TestNode_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := fileConfig(t, "")

	n1, err := New(ctx, cfg)
	require.NoError(t, err)
	m, err := n1.Create(ctx)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := m.Execute(ctx, resurrection.Task{"name": "t"})
		require.NoError(t, err)
	}
	// Shutdown 休眠所有活跃实例
	require.NoError(t, n1.Shutdown(ctx))
	assert.Equal(t, resurrection.StateHibernated, m.State())

	n2, err := New(ctx, cfg)
	require.NoError(t, err)
	defer n2.Shutdown(ctx)
	m2, err := n2.Resurrect(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m2.Sequence())

	again, err := n2.Resurrect(ctx, m.ID())
	require.NoError(t, err)
	assert.Same(t, m2, again)

	hist, err := n2.Backend.History(ctx, m.ID())
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestNode_PeriodicCheckpoints(t *testing.T) {
	ctx := context.Background()
	n, err := New(ctx, fileConfig(t, "10ms"))
	require.NoError(t, err)
	m, err := n.Create(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return m.Stats().CheckpointsSaved >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, n.Shutdown(ctx))
	assert.Equal(t, resurrection.StateHibernated, m.State())
}

func TestNode_ResurrectUnknown(t *testing.T) {
	ctx := context.Background()
	n, err := New(ctx, fileConfig(t, ""))
	require.NoError(t, err)
	defer n.Shutdown(ctx)
	_, err = n.Resurrect(ctx, "agent:ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestNode_BadArchiveConfig(t *testing.T) {
	cfg := fileConfig(t, "")
	cfg.Storage.Archive.Type = "s3"
	cfg.Storage.Archive.Bucket = ""
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNode_InitTracingWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := fileConfig(t, "")
	cfg.Monitoring.Tracing.Enable = true
	n, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer n.Shutdown(context.Background())
	assert.NoError(t, n.InitTracing())
	assert.Empty(t, n.shutdown)
}
