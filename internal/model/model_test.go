package model

import (
	"errors"
	"testing"

	"github.com/and161185/sync-keeper/internal/errs"
)

func TestParseSyncType_RoundTripAllTypes(t *testing.T) {
	t.Parallel()

	for _, typ := range AllTypes {
		got, err := ParseSyncType(typ.String())
		if err != nil {
			t.Fatalf("ParseSyncType(%q): %v", typ, err)
		}
		if got != typ {
			t.Fatalf("want %v, got %v", typ, got)
		}
	}
	if got, err := ParseSyncType("  Bookmark "); err != nil || got != Bookmark {
		t.Fatalf("case/space insensitive parse: got=%v err=%v", got, err)
	}
}

func TestParseSyncType_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "unspecified", "calendar"} {
		if _, err := ParseSyncType(in); !errors.Is(err, errs.ErrInvalidArgument) {
			t.Fatalf("%q: want ErrInvalidArgument, got %v", in, err)
		}
	}
	if _, err := ParseSyncTypes([]string{"bookmark", "nope"}); err == nil {
		t.Fatalf("want error for bad element")
	}
	if SyncType(42).Valid() || Unspecified.Valid() {
		t.Fatalf("out-of-range types must be invalid")
	}
}

func TestEntryClone_Independent(t *testing.T) {
	t.Parallel()

	e := Entry{
		ID: "a",
		Specifics: Specifics{
			Type:     Bookmark,
			Bookmark: &BookmarkSpecifics{URL: "https://example.org", Favicon: []byte{1, 2}},
		},
	}
	c := e.Clone()
	c.Specifics.Bookmark.URL = "changed"
	c.Specifics.Bookmark.Favicon[0] = 9

	if e.Specifics.Bookmark.URL != "https://example.org" || e.Specifics.Bookmark.Favicon[0] != 1 {
		t.Fatalf("clone aliases original: %+v", e.Specifics.Bookmark)
	}
	if e.Specifics.Equal(c.Specifics) {
		t.Fatalf("Equal must see the difference")
	}
	if !e.Specifics.Equal(e.Specifics.Clone()) {
		t.Fatalf("clone must be equal to original")
	}
}

func TestDefaultSpecifics(t *testing.T) {
	t.Parallel()

	if s := DefaultSpecifics(Bookmark); s.Bookmark == nil || s.Type != Bookmark {
		t.Fatalf("bookmark default must carry bookmark payload: %+v", s)
	}
	if s := DefaultSpecifics(Theme); s.Bookmark != nil || s.Type != Theme {
		t.Fatalf("non-bookmark default must not carry bookmark payload: %+v", s)
	}
}
