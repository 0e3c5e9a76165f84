package syncstore

import (
	"fmt"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

func typeSet(types []model.SyncType) (map[model.SyncType]bool, error) {
	set := make(map[model.SyncType]bool, len(types))
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("requested %v: %w", t, errs.ErrInvalidArgument)
		}
		set[t] = true
	}
	return set, nil
}

// matches reports whether r belongs to a feed over want. Untyped tombstones
// belong to every feed.
func (r *record) matches(want map[model.SyncType]bool) bool {
	if r.deleted && r.specifics.Type == model.Unspecified {
		return true
	}
	return want[r.specifics.Type]
}

// GetChanges bootstraps the permanent items of types and returns at most
// BatchSize entries of those types with a version above since, ascending by
// version. The watermark is the version of the last returned entry, or since
// when nothing matched.
func (s *Store) GetChanges(types []model.SyncType, since int64) (int64, []model.Entry, error) {
	want, err := typeSet(types)
	if err != nil {
		return since, nil, err
	}
	if since < 0 {
		return since, nil, fmt.Errorf("negative since version %d: %w", since, errs.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensurePermanentLocked(types)

	watermark := since
	out := make([]model.Entry, 0)
	s.scanLocked(since, func(r *record) bool {
		if !r.matches(want) {
			return true
		}
		out = append(out, r.snapshot())
		watermark = r.version
		return len(out) < s.cfg.BatchSize
	})
	return watermark, out, nil
}

// Pending counts entries of types with a version above since. It does not
// bootstrap permanent items.
func (s *Store) Pending(types []model.SyncType, since int64) (int, error) {
	want, err := typeSet(types)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	s.scanLocked(since, func(r *record) bool {
		if r.matches(want) {
			n++
		}
		return true
	})
	return n, nil
}
