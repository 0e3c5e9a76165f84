// Package sqlite contains an embedded SQLite implementation of repository
// interfaces on the ncruces/go-sqlite3 database/sql driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/and161185/sync-keeper/internal/migrate"
	"github.com/and161185/sync-keeper/internal/model"
)

const upsertEntrySQL = `
INSERT INTO entries (account_id, id, parent_id, ver, position, name, sync_type, has_bookmark,
    bookmark_url, bookmark_favicon, data, folder, deleted, server_tag, originator_item, originator_guid, updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (account_id, id) DO UPDATE SET
    parent_id=excluded.parent_id, ver=excluded.ver, position=excluded.position, name=excluded.name,
    sync_type=excluded.sync_type, has_bookmark=excluded.has_bookmark, bookmark_url=excluded.bookmark_url,
    bookmark_favicon=excluded.bookmark_favicon, data=excluded.data, folder=excluded.folder,
    deleted=excluded.deleted, server_tag=excluded.server_tag, originator_item=excluded.originator_item,
    originator_guid=excluded.originator_guid, updated_at=excluded.updated_at
WHERE entries.ver < excluded.ver`

const loadEntriesSQL = `
SELECT id, parent_id, ver, position, name, sync_type, has_bookmark, bookmark_url, bookmark_favicon,
    data, folder, deleted, server_tag, originator_item, originator_guid, updated_at
FROM entries WHERE account_id=?
ORDER BY ver ASC`

// EntryRepo implements EntryRepository on a local SQLite file.
type EntryRepo struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*EntryRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; readers contend on the same connection anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate.Apply(ctx, db, migrate.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &EntryRepo{db: db}, nil
}

// Close closes the database.
func (r *EntryRepo) Close() error { return r.db.Close() }

// SaveEntries upserts entries in one transaction; older snapshots never
// replace newer ones.
func (r *EntryRepo) SaveEntries(ctx context.Context, accountID uuid.UUID, entries []model.Entry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	stmt, err := tx.PrepareContext(ctx, upsertEntrySQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	account := accountID.String()
	for i, e := range entries {
		var (
			hasBookmark bool
			url         string
			favicon     []byte
		)
		if b := e.Specifics.Bookmark; b != nil {
			hasBookmark, url, favicon = true, b.URL, b.Favicon
		}
		_, err = stmt.ExecContext(ctx, account, e.ID, e.ParentID, e.Version, e.PositionInParent, e.Name,
			int64(e.Specifics.Type), hasBookmark, url, blobArg(favicon), blobArg(e.Specifics.Data), e.Folder, e.Deleted,
			e.ServerTag, e.OriginatorClientItemID, e.OriginatorClientGUID, e.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("entry[%d] %q: %w", i, e.ID, err)
		}
	}
	return nil
}

// LoadEntries returns the account's entries ascending by version.
func (r *EntryRepo) LoadEntries(ctx context.Context, accountID uuid.UUID) ([]model.Entry, error) {
	rows, err := r.db.QueryContext(ctx, loadEntriesSQL, accountID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entry
	for rows.Next() {
		var (
			e           model.Entry
			typ         int64
			hasBookmark bool
			url         string
			favicon     sql.Null[[]byte]
			data        sql.Null[[]byte]
			updated     int64
		)
		if err := rows.Scan(&e.ID, &e.ParentID, &e.Version, &e.PositionInParent, &e.Name, &typ, &hasBookmark,
			&url, &favicon, &data, &e.Folder, &e.Deleted, &e.ServerTag, &e.OriginatorClientItemID,
			&e.OriginatorClientGUID, &updated); err != nil {
			return nil, err
		}
		e.Specifics.Type = model.SyncType(typ)
		e.Specifics.Data = blobValue(data)
		if hasBookmark {
			e.Specifics.Bookmark = &model.BookmarkSpecifics{URL: url, Favicon: blobValue(favicon)}
		}
		e.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// blobArg stores a nil slice as NULL and anything else, empty included, as a blob.
func blobArg(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

// blobValue is the inverse of blobArg.
func blobValue(n sql.Null[[]byte]) []byte {
	if !n.Valid {
		return nil
	}
	if n.V == nil {
		return []byte{}
	}
	return n.V
}

// MaxVersion returns the current maximum version for an account.
func (r *EntryRepo) MaxVersion(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ver),0) FROM entries WHERE account_id=?`,
		accountID.String()).Scan(&v)
	return v, err
}
