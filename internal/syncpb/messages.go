package syncpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// DataType enumerates the synced data types. Zero means unspecified.
type DataType int32

const (
	DataTypeUnspecified DataType = iota
	DataTypeTopLevelFolder
	DataTypeBookmark
	DataTypeAutofill
	DataTypePassword
	DataTypePreference
	DataTypeTheme
	DataTypeTypedURL
	DataTypeExtension
	DataTypeNigori
	DataTypeSession
	DataTypeApp
)

// ResponseType is the per-entry outcome of a commit.
type ResponseType int32

const (
	ResponseUnknown ResponseType = iota
	ResponseSuccess
	ResponseConflict
	ResponseRetry
	ResponseInvalidMessage
	ResponseOverQuota
	ResponseTransientError
)

func (r ResponseType) String() string {
	switch r {
	case ResponseSuccess:
		return "SUCCESS"
	case ResponseConflict:
		return "CONFLICT"
	case ResponseRetry:
		return "RETRY"
	case ResponseInvalidMessage:
		return "INVALID_MESSAGE"
	case ResponseOverQuota:
		return "OVER_QUOTA"
	case ResponseTransientError:
		return "TRANSIENT_ERROR"
	default:
		return fmt.Sprintf("RESPONSE_TYPE(%d)", int32(r))
	}
}

// BookmarkSpecifics is the bookmark payload.
type BookmarkSpecifics struct {
	URL     string
	Favicon []byte
}

func (m *BookmarkSpecifics) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.URL)
	return appendBytes(b, 2, m.Favicon)
}

func (m *BookmarkSpecifics) UnmarshalWire(b []byte) error {
	*m = BookmarkSpecifics{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.URL)
		case 2:
			return consumeBytes(typ, b, &m.Favicon)
		}
		return 0, nil
	})
}

// EntitySpecifics carries the type tag and the payload of an entity.
type EntitySpecifics struct {
	DataType DataType
	Bookmark *BookmarkSpecifics
	Data     []byte
}

func (m *EntitySpecifics) AppendWire(b []byte) []byte {
	b = appendInt64(b, 1, int64(m.DataType))
	if m.Bookmark != nil {
		b = appendMessage(b, 2, m.Bookmark)
	}
	return appendBytes(b, 3, m.Data)
}

func (m *EntitySpecifics) UnmarshalWire(b []byte) error {
	*m = EntitySpecifics{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var v int64
			n, err := consumeInt64(typ, b, &v)
			m.DataType = DataType(v)
			return n, err
		case 2:
			m.Bookmark = &BookmarkSpecifics{}
			return consumeMessage(typ, b, m.Bookmark)
		case 3:
			return consumeBytes(typ, b, &m.Data)
		}
		return 0, nil
	})
}

// SyncEntity is an entry as sent by clients in a commit and returned by the
// server in an update.
type SyncEntity struct {
	IDString               string
	ParentIDString         string
	Version                int64
	Mtime                  int64 // unix millis
	Name                   string
	ServerDefinedUniqueTag string
	PositionInParent       int64
	InsertAfterItemID      string
	Deleted                bool
	OriginatorCacheGUID    string
	OriginatorClientItemID string
	Specifics              *EntitySpecifics
	Folder                 bool
}

func (m *SyncEntity) AppendWire(b []byte) []byte {
	b = appendString(b, 1, m.IDString)
	b = appendString(b, 2, m.ParentIDString)
	b = appendInt64(b, 4, m.Version)
	b = appendInt64(b, 5, m.Mtime)
	b = appendString(b, 7, m.Name)
	b = appendString(b, 10, m.ServerDefinedUniqueTag)
	b = appendInt64(b, 15, m.PositionInParent)
	b = appendString(b, 16, m.InsertAfterItemID)
	b = appendBool(b, 18, m.Deleted)
	b = appendString(b, 19, m.OriginatorCacheGUID)
	b = appendString(b, 20, m.OriginatorClientItemID)
	if m.Specifics != nil {
		b = appendMessage(b, 21, m.Specifics)
	}
	return appendBool(b, 22, m.Folder)
}

func (m *SyncEntity) UnmarshalWire(b []byte) error {
	*m = SyncEntity{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &m.IDString)
		case 2:
			return consumeString(typ, b, &m.ParentIDString)
		case 4:
			return consumeInt64(typ, b, &m.Version)
		case 5:
			return consumeInt64(typ, b, &m.Mtime)
		case 7:
			return consumeString(typ, b, &m.Name)
		case 10:
			return consumeString(typ, b, &m.ServerDefinedUniqueTag)
		case 15:
			return consumeInt64(typ, b, &m.PositionInParent)
		case 16:
			return consumeString(typ, b, &m.InsertAfterItemID)
		case 18:
			return consumeBool(typ, b, &m.Deleted)
		case 19:
			return consumeString(typ, b, &m.OriginatorCacheGUID)
		case 20:
			return consumeString(typ, b, &m.OriginatorClientItemID)
		case 21:
			m.Specifics = &EntitySpecifics{}
			return consumeMessage(typ, b, m.Specifics)
		case 22:
			return consumeBool(typ, b, &m.Folder)
		}
		return 0, nil
	})
}

// GetUpdatesRequest asks for entries of RequestedTypes changed after FromTimestamp.
type GetUpdatesRequest struct {
	FromTimestamp  int64
	RequestedTypes []DataType
}

func (m *GetUpdatesRequest) AppendWire(b []byte) []byte {
	b = appendInt64(b, 1, m.FromTimestamp)
	if len(m.RequestedTypes) > 0 {
		var packed []byte
		for _, t := range m.RequestedTypes {
			packed = protowire.AppendVarint(packed, uint64(t))
		}
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	return b
}

func (m *GetUpdatesRequest) UnmarshalWire(b []byte) error {
	*m = GetUpdatesRequest{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, b, &m.FromTimestamp)
		case 2:
			// accept both packed and unpacked encodings
			if typ == protowire.VarintType {
				var v int64
				n, err := consumeInt64(typ, b, &v)
				m.RequestedTypes = append(m.RequestedTypes, DataType(v))
				return n, err
			}
			if typ != protowire.BytesType {
				return 0, nil
			}
			packed, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			for len(packed) > 0 {
				v, k := protowire.ConsumeVarint(packed)
				if k < 0 {
					return 0, protowire.ParseError(k)
				}
				m.RequestedTypes = append(m.RequestedTypes, DataType(v))
				packed = packed[k:]
			}
			return n, nil
		}
		return 0, nil
	})
}

// GetUpdatesResponse is one page of the change feed.
type GetUpdatesResponse struct {
	Entries          []*SyncEntity
	NewTimestamp     int64
	ChangesRemaining int64
}

func (m *GetUpdatesResponse) AppendWire(b []byte) []byte {
	for _, e := range m.Entries {
		b = appendMessage(b, 1, e)
	}
	b = appendInt64(b, 2, m.NewTimestamp)
	return appendInt64(b, 3, m.ChangesRemaining)
}

func (m *GetUpdatesResponse) UnmarshalWire(b []byte) error {
	*m = GetUpdatesResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			e := &SyncEntity{}
			n, err := consumeMessage(typ, b, e)
			if n > 0 {
				m.Entries = append(m.Entries, e)
			}
			return n, err
		case 2:
			return consumeInt64(typ, b, &m.NewTimestamp)
		case 3:
			return consumeInt64(typ, b, &m.ChangesRemaining)
		}
		return 0, nil
	})
}

// CommitRequest carries a client's batch of proposed entries.
type CommitRequest struct {
	Entries   []*SyncEntity
	CacheGUID string
}

func (m *CommitRequest) AppendWire(b []byte) []byte {
	for _, e := range m.Entries {
		b = appendMessage(b, 1, e)
	}
	return appendString(b, 2, m.CacheGUID)
}

func (m *CommitRequest) UnmarshalWire(b []byte) error {
	*m = CommitRequest{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			e := &SyncEntity{}
			n, err := consumeMessage(typ, b, e)
			if n > 0 {
				m.Entries = append(m.Entries, e)
			}
			return n, err
		case 2:
			return consumeString(typ, b, &m.CacheGUID)
		}
		return 0, nil
	})
}

// EntryResponse reports the authoritative state of one committed entry, or
// why it was rejected.
type EntryResponse struct {
	ResponseType     ResponseType
	IDString         string
	ParentIDString   string
	PositionInParent int64
	Version          int64
	Name             string
	ErrorMessage     string
	Mtime            int64
}

func (m *EntryResponse) AppendWire(b []byte) []byte {
	b = appendInt64(b, 1, int64(m.ResponseType))
	b = appendString(b, 2, m.IDString)
	b = appendString(b, 3, m.ParentIDString)
	b = appendInt64(b, 4, m.PositionInParent)
	b = appendInt64(b, 5, m.Version)
	b = appendString(b, 6, m.Name)
	b = appendString(b, 7, m.ErrorMessage)
	return appendInt64(b, 8, m.Mtime)
}

func (m *EntryResponse) UnmarshalWire(b []byte) error {
	*m = EntryResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			var v int64
			n, err := consumeInt64(typ, b, &v)
			m.ResponseType = ResponseType(v)
			return n, err
		case 2:
			return consumeString(typ, b, &m.IDString)
		case 3:
			return consumeString(typ, b, &m.ParentIDString)
		case 4:
			return consumeInt64(typ, b, &m.PositionInParent)
		case 5:
			return consumeInt64(typ, b, &m.Version)
		case 6:
			return consumeString(typ, b, &m.Name)
		case 7:
			return consumeString(typ, b, &m.ErrorMessage)
		case 8:
			return consumeInt64(typ, b, &m.Mtime)
		}
		return 0, nil
	})
}

// CommitResponse holds one EntryResponse per committed entry, in order.
type CommitResponse struct {
	EntryResponses []*EntryResponse
}

func (m *CommitResponse) AppendWire(b []byte) []byte {
	for _, e := range m.EntryResponses {
		b = appendMessage(b, 1, e)
	}
	return b
}

func (m *CommitResponse) UnmarshalWire(b []byte) error {
	*m = CommitResponse{}
	return decodeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		e := &EntryResponse{}
		n, err := consumeMessage(typ, b, e)
		if n > 0 {
			m.EntryResponses = append(m.EntryResponses, e)
		}
		return n, err
	})
}
