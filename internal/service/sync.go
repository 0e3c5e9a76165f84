// Package service holds per-account sync state on top of the entry store and
// keeps it in step with the configured repository.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/repository"
	"github.com/and161185/sync-keeper/internal/syncstore"
)

// DefaultMaxBatch bounds one commit request when no limit is configured.
const DefaultMaxBatch = 1000

// SyncService defines the two sync operations of an account.
type SyncService interface {
	// GetUpdates returns one page of the account's change feed.
	GetUpdates(ctx context.Context, accountID uuid.UUID, types []model.SyncType, since int64) (model.Changes, error)
	// Commit reconciles a batch of proposed entries from one client.
	Commit(ctx context.Context, accountID uuid.UUID, clientGUID string, batch []model.ProposedEntry) ([]model.CommitResult, error)
}

type account struct {
	mu        sync.Mutex
	store     *syncstore.Store
	persisted int64 // highest version written to the repository
}

// SyncServiceImpl keeps one store per account. Accounts are loaded from the
// repository on first use; a nil repository keeps everything in memory.
type SyncServiceImpl struct {
	repo     repository.EntryRepository
	cfg      syncstore.Config
	maxBatch int
	log      *zap.Logger
	opts     []syncstore.Option

	mu       sync.Mutex
	accounts map[uuid.UUID]*account
}

var _ SyncService = (*SyncServiceImpl)(nil)

// NewSyncService validates the store configuration and constructs the service.
// Extra store options apply to every account store.
func NewSyncService(
	repo repository.EntryRepository, cfg syncstore.Config, maxBatch int, log *zap.Logger, opts ...syncstore.Option,
) (*SyncServiceImpl, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if log == nil {
		log = zap.NewNop()
	}
	probe, err := syncstore.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &SyncServiceImpl{
		repo:     repo,
		cfg:      probe.Config(),
		maxBatch: maxBatch,
		log:      log,
		opts:     opts,
		accounts: make(map[uuid.UUID]*account),
	}, nil
}

// GetUpdates bootstraps the permanent items of the requested types and returns
// the entries changed after since, with the count still pending.
func (s *SyncServiceImpl) GetUpdates(
	ctx context.Context, accountID uuid.UUID, types []model.SyncType, since int64,
) (model.Changes, error) {
	if accountID == uuid.Nil {
		return model.Changes{}, fmt.Errorf("validation: empty account: %w", errs.ErrInvalidArgument)
	}
	acc, err := s.acquire(ctx, accountID)
	if err != nil {
		return model.Changes{}, err
	}
	defer acc.mu.Unlock()

	wm, entries, err := acc.store.GetChanges(types, since)
	if err != nil {
		return model.Changes{}, err
	}
	remaining, err := acc.store.Pending(types, wm)
	if err != nil {
		return model.Changes{}, err
	}
	if err := s.persist(ctx, accountID, acc); err != nil {
		return model.Changes{}, err
	}
	return model.Changes{Watermark: wm, Entries: entries, Remaining: remaining}, nil
}

// Commit validates the batch shape and reconciles it. Per-entry failures are
// reported in the results; the returned error covers request-level problems.
// Validation rules:
// - clientGUID != ""
// - len(batch) <= max batch
// - each ID != ""
// - Version >= 0
func (s *SyncServiceImpl) Commit(
	ctx context.Context, accountID uuid.UUID, clientGUID string, batch []model.ProposedEntry,
) ([]model.CommitResult, error) {
	if accountID == uuid.Nil {
		return nil, fmt.Errorf("validation: empty account: %w", errs.ErrInvalidArgument)
	}
	if clientGUID == "" {
		return nil, fmt.Errorf("validation: empty client guid: %w", errs.ErrInvalidArgument)
	}
	if len(batch) == 0 {
		return []model.CommitResult{}, nil
	}
	if len(batch) > s.maxBatch {
		return nil, fmt.Errorf("validation: batch too large (%d > %d): %w", len(batch), s.maxBatch, errs.ErrInvalidArgument)
	}
	for i := range batch {
		if batch[i].ID == "" {
			return nil, fmt.Errorf("validation: entry[%d] empty id: %w", i, errs.ErrInvalidArgument)
		}
		if batch[i].Version < 0 {
			return nil, fmt.Errorf("validation: entry[%d] negative version: %w", i, errs.ErrInvalidArgument)
		}
	}

	acc, err := s.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer acc.mu.Unlock()

	results := acc.store.CommitBatch(batch, clientGUID)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			s.log.Debug("commit entry rejected", zap.Stringer("account", accountID), zap.Error(r.Err))
		}
	}
	if failed > 0 {
		s.log.Info("commit partially rejected",
			zap.Stringer("account", accountID), zap.Int("entries", len(batch)), zap.Int("failed", failed))
	}
	if err := s.persist(ctx, accountID, acc); err != nil {
		return nil, err
	}
	return results, nil
}

// acquire returns the account with its lock held, loading it on first use.
func (s *SyncServiceImpl) acquire(ctx context.Context, accountID uuid.UUID) (*account, error) {
	s.mu.Lock()
	acc, ok := s.accounts[accountID]
	if !ok {
		acc = &account{}
		s.accounts[accountID] = acc
	}
	s.mu.Unlock()

	acc.mu.Lock()
	if acc.store != nil {
		return acc, nil
	}
	if err := s.load(ctx, accountID, acc); err != nil {
		acc.mu.Unlock()
		return nil, err
	}
	return acc, nil
}

func (s *SyncServiceImpl) load(ctx context.Context, accountID uuid.UUID, acc *account) error {
	opts := append([]syncstore.Option{syncstore.WithLogger(s.log.With(zap.Stringer("account", accountID)))}, s.opts...)
	st, err := syncstore.New(s.cfg, opts...)
	if err != nil {
		return err
	}
	if s.repo == nil {
		acc.store = st
		return nil
	}

	entries, err := s.repo.LoadEntries(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	maxVer, err := s.repo.MaxVersion(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account %s: %w", accountID, err)
	}
	var last int64
	if n := len(entries); n > 0 {
		last = entries[n-1].Version
	}
	if last != maxVer {
		return fmt.Errorf("load account %s: last loaded version %d, stored max %d: %w",
			accountID, last, maxVer, errs.ErrInternalInvariant)
	}
	if err := st.Restore(entries); err != nil {
		return fmt.Errorf("restore account %s: %w", accountID, err)
	}
	acc.store, acc.persisted = st, last
	s.log.Info("account loaded", zap.Stringer("account", accountID), zap.Int("entries", len(entries)), zap.Int64("version", last))
	return nil
}

// persist writes entries saved since the last successful write. A failed
// write is retried on the next call for the account.
func (s *SyncServiceImpl) persist(ctx context.Context, accountID uuid.UUID, acc *account) error {
	if s.repo == nil {
		return nil
	}
	pending := acc.store.EntriesSince(acc.persisted)
	if len(pending) == 0 {
		return nil
	}
	if err := s.repo.SaveEntries(ctx, accountID, pending); err != nil {
		s.log.Error("persist entries", zap.Stringer("account", accountID), zap.Int("entries", len(pending)), zap.Error(err))
		return fmt.Errorf("persist account %s: %w", accountID, err)
	}
	acc.persisted = pending[len(pending)-1].Version
	return nil
}
