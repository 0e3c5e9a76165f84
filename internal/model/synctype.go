package model

import (
	"fmt"
	"strings"

	"github.com/and161185/sync-keeper/internal/errs"
)

// SyncType is the data category of an entry.
type SyncType int

const (
	Unspecified SyncType = iota
	TopLevel
	Bookmark
	Autofill
	Password
	Preference
	Theme
	TypedURL
	Extension
	Nigori
	Session
	App
)

// AllTypes lists every valid sync type, root type first.
var AllTypes = []SyncType{
	TopLevel, Bookmark, Autofill, Password, Preference, Theme,
	TypedURL, Extension, Nigori, Session, App,
}

var syncTypeNames = map[SyncType]string{
	Unspecified: "unspecified",
	TopLevel:    "top_level",
	Bookmark:    "bookmark",
	Autofill:    "autofill",
	Password:    "password",
	Preference:  "preference",
	Theme:       "theme",
	TypedURL:    "typed_url",
	Extension:   "extension",
	Nigori:      "nigori",
	Session:     "session",
	App:         "app",
}

func (t SyncType) String() string {
	if n, ok := syncTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("sync_type(%d)", int(t))
}

// Valid reports whether t may appear in a request (Unspecified may not).
func (t SyncType) Valid() bool {
	return t > Unspecified && t <= App
}

// ParseSyncType is the inverse of String for valid types.
func ParseSyncType(s string) (SyncType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, n := range syncTypeNames {
		if n == s && t.Valid() {
			return t, nil
		}
	}
	return Unspecified, fmt.Errorf("sync type %q: %w", s, errs.ErrInvalidArgument)
}

// ParseSyncTypes parses a list of names; an empty element is an error.
func ParseSyncTypes(names []string) ([]SyncType, error) {
	out := make([]SyncType, 0, len(names))
	for _, n := range names {
		t, err := ParseSyncType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
