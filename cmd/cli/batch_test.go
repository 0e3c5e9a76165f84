package main

import (
	"testing"

	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/syncstore"
)

func Test_parseBatch_ListAndDocument(t *testing.T) {
	t.Parallel()

	list := []byte(`
- {id: c1, name: A, type: bookmark, url: "https://a.example", parent: "tag:bookmark_bar"}
- {id: c2, type: preference, data: "on"}
`)
	got, err := parseBatch(list)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0].ParentID != syncstore.PermanentItemID("bookmark_bar") || got[0].Specifics.Bookmark.URL != "https://a.example" {
		t.Fatalf("bookmark entry: %+v", got[0])
	}
	if got[1].Specifics.Type != model.Preference || string(got[1].Specifics.Data) != "on" {
		t.Fatalf("preference entry: %+v", got[1])
	}

	doc := []byte(`{"entries": [{"id": "s1", "version": 2, "deleted": true}]}`)
	got, err = parseBatch(doc)
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if len(got) != 1 || !got[0].Deleted || got[0].Version != 2 || got[0].Specifics.Type != model.Unspecified {
		t.Fatalf("tombstone: %+v", got)
	}
}

func Test_parseBatch_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":             `[]`,
		"not yaml":          `{{{`,
		"bad type":          `[{type: spaceship}]`,
		"bookmark data":     `[{type: bookmark, data: x}]`,
		"bad url":           `[{type: bookmark, url: "not a url"}]`,
		"url on non-bm":     `[{type: theme, url: "https://x"}]`,
		"update without id": `[{version: 3, type: theme}]`,
		"negative version":  `[{id: x, version: -1, type: theme}]`,
	}
	for name, in := range cases {
		if _, err := parseBatch([]byte(in)); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}

func Test_autoUUID(t *testing.T) {
	t.Parallel()

	id := ""
	autoUUID(&id)
	if len(id) != 36 {
		t.Fatalf("autoUUID produced %q", id)
	}
	keep := "fixed"
	autoUUID(&keep)
	if keep != "fixed" {
		t.Fatalf("autoUUID overwrote %q", keep)
	}
}

func Test_resolveRef(t *testing.T) {
	t.Parallel()

	if resolveRef("abc") != "abc" || resolveRef("") != "" || resolveRef("tag:") != "tag:" {
		t.Fatalf("plain refs must pass through")
	}
	if resolveRef("tag:other_bookmarks") != syncstore.PermanentItemID("other_bookmarks") {
		t.Fatalf("tag ref not resolved")
	}
}

func Test_choose(t *testing.T) {
	t.Parallel()

	if choose("a", "b") != "a" || choose("", "b") != "b" {
		t.Fatalf("choose")
	}
}
