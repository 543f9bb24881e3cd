package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"anemometer-server/internal/modules/telemetry/types"
)

// SnapshotMirror keeps the full history as one JSON array on disk and
// rewrites it on every append: load, append one, save. It is best effort and
// meant for low write rates; concurrent appends are serialized here and may
// land in the file in a different order than in memory.
type SnapshotMirror struct {
	mu   sync.Mutex
	path string
}

func NewSnapshotMirror(path string) (*SnapshotMirror, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return &SnapshotMirror{path: path}, nil
}

func (m *SnapshotMirror) Kind() string { return "snapshot" }

func (m *SnapshotMirror) Load(ctx context.Context) ([]types.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

func (m *SnapshotMirror) Save(ctx context.Context, seq uint64, rec types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recs, err := m.read()
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	return m.write(recs)
}

func (m *SnapshotMirror) read() ([]types.Record, error) {
	b, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", m.path, err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var recs []types.Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", m.path, err)
	}
	return recs, nil
}

// write replaces the snapshot atomically so a crash mid-write leaves the
// previous document intact.
func (m *SnapshotMirror) write(recs []types.Record) error {
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), filepath.Base(m.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", m.path, err)
	}
	return nil
}
