// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/sync-keeper/internal/model"
)

// EntryRepository persists the latest snapshot of every entry of an account.
type EntryRepository interface {
	// SaveEntries upserts entries by (account, id) in one transaction.
	SaveEntries(ctx context.Context, accountID uuid.UUID, entries []model.Entry) error

	// LoadEntries returns all entries of an account ascending by version.
	LoadEntries(ctx context.Context, accountID uuid.UUID) ([]model.Entry, error)

	// MaxVersion returns the highest persisted version of an account, 0 if none.
	MaxVersion(ctx context.Context, accountID uuid.UUID) (int64, error)
}
