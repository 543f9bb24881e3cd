package history

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anemometer-server/internal/modules/telemetry/types"
)

func TestSnapshotMirror_LoadMissingFile(t *testing.T) {
	m, err := NewSnapshotMirror(filepath.Join(t.TempDir(), "nested", "history.json"))
	require.NoError(t, err)

	recs, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, "snapshot", m.Kind())
}

func TestSnapshotMirror_RewritesFullDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	m, err := NewSnapshotMirror(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, 1, rec(100)))
	require.NoError(t, m.Save(ctx, 2, rec(200)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc []types.Record
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, []types.Record{rec(100), rec(200)}, doc)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestSnapshotMirror_ConcurrentSavesKeepEveryRecord(t *testing.T) {
	m, err := NewSnapshotMirror(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, m.Save(ctx, uint64(i), rec(uint32(i))))
		}(i)
	}
	wg.Wait()

	recs, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestSnapshotMirror_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	m, err := NewSnapshotMirror(path)
	require.NoError(t, err)

	_, err = m.Load(context.Background())
	assert.Error(t, err)
	assert.Error(t, m.Save(context.Background(), 1, rec(1)), "never overwrite a document it cannot read")
}

func TestStore_RestoresFromSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	ctx := context.Background()

	m, err := NewSnapshotMirror(path)
	require.NoError(t, err)
	first := New(m, nil)
	first.Append(ctx, rec(1))
	first.Append(ctx, rec(2))

	m2, err := NewSnapshotMirror(path)
	require.NoError(t, err)
	second := New(m2, nil)
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, first.All(), second.All())
}
