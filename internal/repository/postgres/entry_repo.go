package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/sync-keeper/internal/model"
)

const upsertEntrySQL = `
INSERT INTO entries (account_id, id, parent_id, ver, position, name, sync_type, has_bookmark,
    bookmark_url, bookmark_favicon, data, folder, deleted, server_tag, originator_item, originator_guid, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (account_id, id) DO UPDATE SET
    parent_id=EXCLUDED.parent_id, ver=EXCLUDED.ver, position=EXCLUDED.position, name=EXCLUDED.name,
    sync_type=EXCLUDED.sync_type, has_bookmark=EXCLUDED.has_bookmark, bookmark_url=EXCLUDED.bookmark_url,
    bookmark_favicon=EXCLUDED.bookmark_favicon, data=EXCLUDED.data, folder=EXCLUDED.folder,
    deleted=EXCLUDED.deleted, server_tag=EXCLUDED.server_tag, originator_item=EXCLUDED.originator_item,
    originator_guid=EXCLUDED.originator_guid, updated_at=EXCLUDED.updated_at
WHERE entries.ver < EXCLUDED.ver`

const loadEntriesSQL = `
SELECT id, parent_id, ver, position, name, sync_type, has_bookmark, bookmark_url, bookmark_favicon,
    data, folder, deleted, server_tag, originator_item, originator_guid, updated_at
FROM entries WHERE account_id=$1
ORDER BY ver ASC`

const maxVersionSQL = `SELECT COALESCE(MAX(ver),0) FROM entries WHERE account_id=$1`

// EntryRepo implements EntryRepository using PostgreSQL.
type EntryRepo struct{ db *DB }

// NewEntryRepo constructs an entry repository.
func NewEntryRepo(db *DB) *EntryRepo { return &EntryRepo{db: db} }

// SaveEntries upserts entries in one transaction. A row is only replaced by a
// snapshot with a higher version.
func (r *EntryRepo) SaveEntries(ctx context.Context, accountID uuid.UUID, entries []model.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	for i, e := range entries {
		if _, err = tx.Exec(ctx, upsertEntrySQL, upsertArgs(accountID, e)...); err != nil {
			return fmt.Errorf("entry[%d] %q: %w", i, e.ID, err)
		}
	}
	return nil
}

func upsertArgs(accountID uuid.UUID, e model.Entry) []any {
	var (
		hasBookmark bool
		url         string
		favicon     []byte
	)
	if b := e.Specifics.Bookmark; b != nil {
		hasBookmark, url, favicon = true, b.URL, b.Favicon
	}
	return []any{
		accountID, e.ID, e.ParentID, e.Version, e.PositionInParent, e.Name, int16(e.Specifics.Type), hasBookmark,
		url, favicon, e.Specifics.Data, e.Folder, e.Deleted, e.ServerTag, e.OriginatorClientItemID,
		e.OriginatorClientGUID, e.UpdatedAt,
	}
}

// LoadEntries returns the account's entries ascending by version.
func (r *EntryRepo) LoadEntries(ctx context.Context, accountID uuid.UUID) ([]model.Entry, error) {
	rows, err := r.db.Pool.Query(ctx, loadEntriesSQL, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (model.Entry, error) {
	var (
		e           model.Entry
		typ         int16
		hasBookmark bool
		url         string
		favicon     []byte
	)
	err := row.Scan(&e.ID, &e.ParentID, &e.Version, &e.PositionInParent, &e.Name, &typ, &hasBookmark, &url,
		&favicon, &e.Specifics.Data, &e.Folder, &e.Deleted, &e.ServerTag, &e.OriginatorClientItemID,
		&e.OriginatorClientGUID, &e.UpdatedAt)
	if err != nil {
		return model.Entry{}, err
	}
	e.Specifics.Type = model.SyncType(typ)
	if hasBookmark {
		e.Specifics.Bookmark = &model.BookmarkSpecifics{URL: url, Favicon: favicon}
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return e, nil
}

// MaxVersion returns the current maximum version for an account.
func (r *EntryRepo) MaxVersion(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var v int64
	if err := r.db.Pool.QueryRow(ctx, maxVersionSQL, accountID).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}
