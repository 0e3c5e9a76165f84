// Package convert maps sync wire messages to domain types and back.
package convert

import (
	"errors"
	"fmt"
	"time"

	"github.com/and161185/sync-keeper/internal/errs"
	model "github.com/and161185/sync-keeper/internal/model"
	pb "github.com/and161185/sync-keeper/internal/syncpb"
)

// --- helpers ---

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// --- DataType ---

// ToProtoDataType maps a domain sync type to its wire value.
func ToProtoDataType(t model.SyncType) pb.DataType {
	switch t {
	case model.TopLevel:
		return pb.DataTypeTopLevelFolder
	case model.Bookmark:
		return pb.DataTypeBookmark
	case model.Autofill:
		return pb.DataTypeAutofill
	case model.Password:
		return pb.DataTypePassword
	case model.Preference:
		return pb.DataTypePreference
	case model.Theme:
		return pb.DataTypeTheme
	case model.TypedURL:
		return pb.DataTypeTypedURL
	case model.Extension:
		return pb.DataTypeExtension
	case model.Nigori:
		return pb.DataTypeNigori
	case model.Session:
		return pb.DataTypeSession
	case model.App:
		return pb.DataTypeApp
	default:
		return pb.DataTypeUnspecified
	}
}

// FromProtoDataType maps a wire data type to the domain. Values this server
// does not know map to an invalid sync type.
func FromProtoDataType(dt pb.DataType) model.SyncType {
	for _, t := range model.AllTypes {
		if ToProtoDataType(t) == dt {
			return t
		}
	}
	if dt == pb.DataTypeUnspecified {
		return model.Unspecified
	}
	return model.SyncType(-1)
}

// FromProtoDataTypes maps requested types, rejecting unknown and unspecified ones.
func FromProtoDataTypes(dts []pb.DataType) ([]model.SyncType, error) {
	out := make([]model.SyncType, 0, len(dts))
	for i, dt := range dts {
		t := FromProtoDataType(dt)
		if !t.Valid() {
			return nil, fmt.Errorf("requested_types[%d]: unknown data type %d: %w", i, int32(dt), errs.ErrInvalidArgument)
		}
		out = append(out, t)
	}
	return out, nil
}

// --- Specifics ---

// ToProtoSpecifics wraps a domain payload.
func ToProtoSpecifics(s model.Specifics) *pb.EntitySpecifics {
	out := &pb.EntitySpecifics{DataType: ToProtoDataType(s.Type), Data: cloneBytes(s.Data)}
	if s.Bookmark != nil {
		out.Bookmark = &pb.BookmarkSpecifics{URL: s.Bookmark.URL, Favicon: cloneBytes(s.Bookmark.Favicon)}
	}
	return out
}

// FromProtoSpecifics unwraps a wire payload; nil maps to an unspecified payload.
func FromProtoSpecifics(s *pb.EntitySpecifics) model.Specifics {
	if s == nil {
		return model.Specifics{}
	}
	out := model.Specifics{Type: FromProtoDataType(s.DataType), Data: cloneBytes(s.Data)}
	if s.Bookmark != nil {
		out.Bookmark = &model.BookmarkSpecifics{URL: s.Bookmark.URL, Favicon: cloneBytes(s.Bookmark.Favicon)}
	}
	return out
}

// --- Entities ---

// ToProtoEntity maps a stored entry to its wire form.
func ToProtoEntity(e model.Entry) *pb.SyncEntity {
	return &pb.SyncEntity{
		IDString:               e.ID,
		ParentIDString:         e.ParentID,
		Version:                e.Version,
		Mtime:                  millis(e.UpdatedAt),
		Name:                   e.Name,
		ServerDefinedUniqueTag: e.ServerTag,
		PositionInParent:       e.PositionInParent,
		Deleted:                e.Deleted,
		OriginatorCacheGUID:    e.OriginatorClientGUID,
		OriginatorClientItemID: e.OriginatorClientItemID,
		Specifics:              ToProtoSpecifics(e.Specifics),
		Folder:                 e.Folder,
	}
}

// ToProtoEntities maps a page of entries.
func ToProtoEntities(es []model.Entry) []*pb.SyncEntity {
	out := make([]*pb.SyncEntity, 0, len(es))
	for _, e := range es {
		out = append(out, ToProtoEntity(e))
	}
	return out
}

// FromProtoEntity maps a committed wire entity to a proposed entry.
func FromProtoEntity(e *pb.SyncEntity) (model.ProposedEntry, error) {
	if e == nil {
		return model.ProposedEntry{}, fmt.Errorf("nil entity: %w", errs.ErrInvalidArgument)
	}
	return model.ProposedEntry{
		ID:                e.IDString,
		Version:           e.Version,
		ParentID:          e.ParentIDString,
		InsertAfterItemID: e.InsertAfterItemID,
		Name:              e.Name,
		Specifics:         FromProtoSpecifics(e.Specifics),
		Folder:            e.Folder,
		Deleted:           e.Deleted,
	}, nil
}

// FromProtoCommit maps a commit request to the batch and the committing client's guid.
func FromProtoCommit(req *pb.CommitRequest) ([]model.ProposedEntry, string, error) {
	out := make([]model.ProposedEntry, 0, len(req.Entries))
	for i, e := range req.Entries {
		p, err := FromProtoEntity(e)
		if err != nil {
			return nil, "", fmt.Errorf("entries[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, req.CacheGUID, nil
}

// ToProtoProposed is the client-side inverse of FromProtoEntity.
func ToProtoProposed(p model.ProposedEntry) *pb.SyncEntity {
	return &pb.SyncEntity{
		IDString:          p.ID,
		ParentIDString:    p.ParentID,
		Version:           p.Version,
		InsertAfterItemID: p.InsertAfterItemID,
		Name:              p.Name,
		Deleted:           p.Deleted,
		Specifics:         ToProtoSpecifics(p.Specifics),
		Folder:            p.Folder,
	}
}

// ToProtoCommit builds a commit request for a batch.
func ToProtoCommit(batch []model.ProposedEntry, clientGUID string) *pb.CommitRequest {
	req := &pb.CommitRequest{CacheGUID: clientGUID, Entries: make([]*pb.SyncEntity, 0, len(batch))}
	for _, p := range batch {
		req.Entries = append(req.Entries, ToProtoProposed(p))
	}
	return req
}

// --- Commit results ---

// ResponseTypeFor classifies a per-entry commit error.
func ResponseTypeFor(err error) pb.ResponseType {
	switch {
	case err == nil:
		return pb.ResponseSuccess
	case errors.Is(err, errs.ErrReference):
		return pb.ResponseConflict
	case errors.Is(err, errs.ErrInvalidArgument):
		return pb.ResponseInvalidMessage
	case errors.Is(err, errs.ErrResourceExhausted):
		return pb.ResponseRetry
	default:
		return pb.ResponseTransientError
	}
}

// ToProtoEntryResponse maps one commit result.
func ToProtoEntryResponse(r model.CommitResult) *pb.EntryResponse {
	out := &pb.EntryResponse{ResponseType: ResponseTypeFor(r.Err)}
	if r.Err != nil {
		out.IDString = r.ClientID
		out.ErrorMessage = r.Err.Error()
		return out
	}
	out.IDString = r.Entry.ID
	out.ParentIDString = r.Entry.ParentID
	out.PositionInParent = r.Entry.PositionInParent
	out.Version = r.Entry.Version
	out.Name = r.Entry.Name
	out.Mtime = millis(r.Entry.UpdatedAt)
	return out
}

// ToProtoCommitResponse maps a batch of commit results, preserving order.
func ToProtoCommitResponse(rs []model.CommitResult) *pb.CommitResponse {
	out := &pb.CommitResponse{EntryResponses: make([]*pb.EntryResponse, 0, len(rs))}
	for _, r := range rs {
		out.EntryResponses = append(out.EntryResponses, ToProtoEntryResponse(r))
	}
	return out
}

// ToProtoGetUpdatesResponse maps a change feed page.
func ToProtoGetUpdatesResponse(c model.Changes) *pb.GetUpdatesResponse {
	return &pb.GetUpdatesResponse{
		Entries:          ToProtoEntities(c.Entries),
		NewTimestamp:     c.Watermark,
		ChangesRemaining: int64(c.Remaining),
	}
}
