package progress

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/p-n-ai/pai-lessons/internal/diagnostic"
	"github.com/p-n-ai/pai-lessons/internal/lessonflow"
	"github.com/p-n-ai/pai-lessons/internal/platform/lock"
)

// MemoryStore is an in-memory Store. Updates to one key are serialised by a
// keyed lock; different keys proceed in parallel.
type MemoryStore struct {
	keys          *lock.Local
	records       map[Key]*Record
	augmentations map[Key][]AugmentationRecord
	mu            sync.RWMutex
	now           func() time.Time
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:          lock.NewLocal(),
		records:       make(map[Key]*Record),
		augmentations: make(map[Key][]AugmentationRecord),
		now:           time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) RecordWatch(ctx context.Context, key Key, update WatchUpdate) (*Record, error) {
	return s.update(ctx, key, update.ThresholdPct, true, func(rec *Record, now time.Time) {
		applyWatch(rec, update, now)
	})
}

func (s *MemoryStore) SaveDiagnostics(ctx context.Context, key Key, thresholdPct float64, source diagnostic.Source, results []diagnostic.Result) (*Record, error) {
	return s.update(ctx, key, thresholdPct, true, func(rec *Record, now time.Time) {
		applyDiagnostics(rec, source, results, now)
	})
}

func (s *MemoryStore) SaveState(ctx context.Context, key Key, state lessonflow.State) (*Record, error) {
	return s.update(ctx, key, 0, false, func(rec *Record, now time.Time) {
		applyState(rec, state, now)
	})
}

func (s *MemoryStore) Reset(ctx context.Context, key Key) error {
	unlock, err := s.keys.Lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	delete(s.augmentations, key)
	return nil
}

// update runs one read-modify-write cycle for key under its lock.
func (s *MemoryStore) update(ctx context.Context, key Key, thresholdPct float64, create bool, fn func(*Record, time.Time)) (*Record, error) {
	unlock, err := s.keys.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()

	s.mu.RLock()
	existing, ok := s.records[key]
	s.mu.RUnlock()

	var rec *Record
	switch {
	case ok:
		rec = cloneRecord(existing)
	case create:
		rec = newRecord(key, thresholdPct, now)
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	fn(rec, now)

	s.mu.Lock()
	s.records[key] = rec
	s.mu.Unlock()

	return cloneRecord(rec), nil
}

func (s *MemoryStore) SyncAugmentations(ctx context.Context, key Key, planned []AugmentationRecord) ([]AugmentationRecord, error) {
	unlock, err := s.keys.Lock(ctx, key.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]AugmentationRecord, len(s.augmentations[key]))
	for _, a := range s.augmentations[key] {
		existing[a.ID] = a
	}

	synced := make([]AugmentationRecord, 0, len(planned))
	seen := make(map[string]bool, len(planned))
	for _, p := range planned {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		if prev, ok := existing[p.ID]; ok {
			p.CompletedAt = prev.CompletedAt
		} else {
			p.CompletedAt = nil
		}
		synced = append(synced, p)
	}
	s.augmentations[key] = synced
	return slices.Clone(synced), nil
}

func (s *MemoryStore) ListAugmentations(_ context.Context, key Key) ([]AugmentationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.augmentations[key]), nil
}

func (s *MemoryStore) CompleteAugmentation(ctx context.Context, key Key, id string, at time.Time) (AugmentationRecord, error) {
	unlock, err := s.keys.Lock(ctx, key.String())
	if err != nil {
		return AugmentationRecord{}, err
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	augs := s.augmentations[key]
	for i := range augs {
		if augs[i].ID != id {
			continue
		}
		if augs[i].CompletedAt == nil {
			completed := at
			augs[i].CompletedAt = &completed
		}
		return augs[i], nil
	}
	return AugmentationRecord{}, fmt.Errorf("%w: augmentation %s for %s", ErrNotFound, id, key)
}
