// Package history keeps the append-only, arrival-ordered log of decoded
// telemetry records.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"anemometer-server/internal/modules/telemetry/types"
)

var ErrEmptyHistory = errors.New("no telemetry history")

// mirrorSaveTimeout bounds one mirror write. Saves outlive the request that
// produced the record.
const mirrorSaveTimeout = 10 * time.Second

// Mirror persists appended records outside the process. Writes are best
// effort: a failed Save never rolls back the in-memory append.
type Mirror interface {
	Kind() string
	// Save persists rec after every earlier record. seq is the in-memory
	// sequence number (1-based); mirrors keep their own ordering keys.
	Save(ctx context.Context, seq uint64, rec types.Record) error
	// Load returns every persisted record in append order.
	Load(ctx context.Context) ([]types.Record, error)
}

// Store is the process-wide telemetry history. The zero value is not usable;
// construct with New.
type Store struct {
	mu      sync.RWMutex
	records []types.Record

	mirror Mirror
	logger *slog.Logger
}

// New returns an empty store. A nil mirror disables persistence.
func New(mirror Mirror, logger *slog.Logger) *Store {
	if mirror == nil {
		mirror = NopMirror{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{mirror: mirror, logger: logger}
}

// MirrorKind names the configured persistence backend.
func (s *Store) MirrorKind() string {
	return s.mirror.Kind()
}

// Restore seeds an empty store from the mirror. Call once at startup, before
// serving requests.
func (s *Store) Restore(ctx context.Context) (int, error) {
	recs, err := s.mirror.Load(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 {
		return 0, errors.New("restore into non-empty history")
	}
	s.records = append(make([]types.Record, 0, len(recs)), recs...)
	return len(recs), nil
}

// Append adds rec at the end of the history and returns its sequence number.
// The record is visible to readers before the mirror write starts, and the
// write is not cancelled with ctx.
func (s *Store) Append(ctx context.Context, rec types.Record) uint64 {
	s.mu.Lock()
	s.records = append(s.records, rec)
	seq := uint64(len(s.records))
	s.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mirrorSaveTimeout)
	defer cancel()
	if err := s.mirror.Save(saveCtx, seq, rec); err != nil {
		s.logger.Error("history mirror write failed",
			"mirror", s.mirror.Kind(),
			"seq", seq,
			"unix_epoch", rec.UnixEpoch,
			"error", err,
		)
	}
	return seq
}

// Latest returns the most recently appended record.
func (s *Store) Latest() (types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return types.Record{}, false
	}
	return s.records[len(s.records)-1], true
}

// All returns a copy of the full history in append order.
func (s *Store) All() []types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Window returns the records whose device time falls within [from, to], in
// append order. A zero bound is open. With limit > 0 only the last limit
// matches are returned.
func (s *Store) Window(from, to time.Time, limit int) []types.Record {
	snapshot := s.All()

	out := make([]types.Record, 0, len(snapshot))
	for _, r := range snapshot {
		sent := r.Sent()
		if !from.IsZero() && sent.Before(from) {
			continue
		}
		if !to.IsZero() && sent.After(to) {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// NopMirror keeps history in memory only.
type NopMirror struct{}

func (NopMirror) Kind() string { return "none" }

func (NopMirror) Save(context.Context, uint64, types.Record) error { return nil }

func (NopMirror) Load(context.Context) ([]types.Record, error) { return nil, nil }
