package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMirrorsEntries(t *testing.T) {
	chain, _ := newTestChain(t)
	idx, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	chain.AttachIndex(idx)

	_, err = chain.LogEvent("PHASE_START", "orchestrator", "started", "INGESTION", map[string]any{"run": "r1"})
	require.NoError(t, err)
	_, err = chain.LogEvent("PHASE_COMPLETED", "orchestrator", "completed", "INGESTION", nil)
	require.NoError(t, err)

	ctx := context.Background()
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := idx.Query(ctx, EntryFilter{EventType: "PHASE_START"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "INGESTION", entries[0].Phase)
	assert.Equal(t, "r1", entries[0].Metadata["run"])
	assert.Nil(t, entries[0].PreviousHash)
}

func TestIndexRebuild(t *testing.T) {
	chain, _ := newTestChain(t)

	// Entries logged before the index is attached are not mirrored.
	_, err := chain.LogEvent("PIPELINE_START", "orchestrator", "started", "", nil)
	require.NoError(t, err)
	_, err = chain.LogEvent("PHASE_START", "orchestrator", "started", "INGESTION", nil)
	require.NoError(t, err)

	idx, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, idx.Rebuild(chain))
	n, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIndexQueryLimit(t *testing.T) {
	chain, _ := newTestChain(t)
	idx, err := OpenIndex(":memory:")
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	chain.AttachIndex(idx)

	for i := 0; i < 5; i++ {
		_, err := chain.LogEvent("PHASE_START", "orchestrator", "started", "PROCESSING", nil)
		require.NoError(t, err)
	}

	entries, err := idx.Query(context.Background(), EntryFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
