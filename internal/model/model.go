// Package model defines domain entities used by the store, services and repositories.
package model

import (
	"bytes"
	"time"
)

// BookmarkSpecifics is the typed payload of a bookmark entry.
type BookmarkSpecifics struct {
	URL     string
	Favicon []byte
}

// Specifics is a type-tagged payload. Bookmark is set only for Bookmark entries,
// Data carries the opaque payload of every other type.
type Specifics struct {
	Type     SyncType
	Bookmark *BookmarkSpecifics
	Data     []byte
}

// Clone returns a deep copy.
func (s Specifics) Clone() Specifics {
	out := Specifics{Type: s.Type}
	if s.Bookmark != nil {
		out.Bookmark = &BookmarkSpecifics{URL: s.Bookmark.URL, Favicon: cloneBytes(s.Bookmark.Favicon)}
	}
	out.Data = cloneBytes(s.Data)
	return out
}

// Equal reports deep equality.
func (s Specifics) Equal(o Specifics) bool {
	if s.Type != o.Type || !bytes.Equal(s.Data, o.Data) {
		return false
	}
	if (s.Bookmark == nil) != (o.Bookmark == nil) {
		return false
	}
	if s.Bookmark != nil {
		return s.Bookmark.URL == o.Bookmark.URL && bytes.Equal(s.Bookmark.Favicon, o.Bookmark.Favicon)
	}
	return true
}

// DefaultSpecifics returns an empty payload tagged with t.
func DefaultSpecifics(t SyncType) Specifics {
	s := Specifics{Type: t}
	if t == Bookmark {
		s.Bookmark = &BookmarkSpecifics{}
	}
	return s
}

// ProposedEntry is a client change intent as received in a commit batch.
type ProposedEntry struct {
	ID                string // client id for new entries, server id for updates
	Version           int64  // 0 for a new entry
	ParentID          string // empty: keep current parent / use the type's root folder
	InsertAfterItemID string // empty: first among siblings
	Name              string
	Specifics         Specifics
	Folder            bool
	Deleted           bool
}

// Entry is a snapshot of a stored entry. Values handed out by the store never
// alias store state.
type Entry struct {
	ID                     string
	ParentID               string
	Version                int64 // also the entry's position in the global change log
	PositionInParent       int64
	Name                   string
	Specifics              Specifics
	Folder                 bool
	Deleted                bool // tombstone flag
	ServerTag              string
	OriginatorClientItemID string
	OriginatorClientGUID   string
	UpdatedAt              time.Time
}

// Type returns the sync type of the entry payload.
func (e Entry) Type() SyncType { return e.Specifics.Type }

// Permanent reports whether the entry is a server-defined permanent item.
func (e Entry) Permanent() bool { return e.ServerTag != "" }

// Clone returns a deep copy.
func (e Entry) Clone() Entry {
	out := e
	out.Specifics = e.Specifics.Clone()
	return out
}

// CommitResult is the outcome for one entry of a commit batch.
type CommitResult struct {
	ClientID string // id as proposed by the client
	Entry    Entry  // authoritative copy, zero when Err != nil
	Err      error
}

// Changes is one page of the change feed.
type Changes struct {
	Watermark int64   // cursor for the next request
	Entries   []Entry // ascending by version
	Remaining int     // matching entries after Watermark
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
