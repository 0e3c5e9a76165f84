package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	u "github.com/gofrs/uuid/v5"
	"gopkg.in/yaml.v3"

	"github.com/and161185/sync-keeper/internal/model"
	"github.com/and161185/sync-keeper/internal/syncstore"
)

// tagPrefix marks a reference to a permanent item by server tag.
const tagPrefix = "tag:"

// batchItem is one entry of a commit batch file. JSON is accepted as well
// since it parses as YAML.
type batchItem struct {
	ID      string `yaml:"id"`
	Version int64  `yaml:"version"`
	Parent  string `yaml:"parent"`
	After   string `yaml:"after"`
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	URL     string `yaml:"url"`
	Data    string `yaml:"data"`
	Folder  bool   `yaml:"folder"`
	Deleted bool   `yaml:"deleted"`
}

type batchFile struct {
	Entries []batchItem `yaml:"entries"`
}

// parseBatch reads either a bare list of items or a document with an
// entries list.
func parseBatch(b []byte) ([]model.ProposedEntry, error) {
	var items []batchItem
	if err := yaml.Unmarshal(b, &items); err != nil {
		var f batchFile
		if err2 := yaml.Unmarshal(b, &f); err2 != nil {
			return nil, fmt.Errorf("parse batch: %w", err)
		}
		items = f.Entries
	}
	if len(items) == 0 {
		return nil, errors.New("batch is empty")
	}
	out := make([]model.ProposedEntry, 0, len(items))
	for i, it := range items {
		p, err := it.proposed()
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (it batchItem) proposed() (model.ProposedEntry, error) {
	if it.Version < 0 {
		return model.ProposedEntry{}, fmt.Errorf("negative version %d", it.Version)
	}
	id := it.ID
	if id == "" {
		if it.Version > 0 {
			return model.ProposedEntry{}, errors.New("update needs an id")
		}
		autoUUID(&id)
	}
	p := model.ProposedEntry{
		ID:                id,
		Version:           it.Version,
		ParentID:          resolveRef(it.Parent),
		InsertAfterItemID: resolveRef(it.After),
		Name:              it.Name,
		Folder:            it.Folder,
		Deleted:           it.Deleted,
	}
	if it.Deleted && it.Type == "" {
		return p, nil
	}
	t, err := model.ParseSyncType(it.Type)
	if err != nil {
		return model.ProposedEntry{}, err
	}
	p.Specifics = model.DefaultSpecifics(t)
	switch {
	case t == model.Bookmark:
		if it.Data != "" {
			return model.ProposedEntry{}, errors.New("bookmark entries take url, not data")
		}
		if !it.Folder && it.URL != "" && !validURL(it.URL) {
			return model.ProposedEntry{}, fmt.Errorf("invalid url %q", it.URL)
		}
		p.Specifics.Bookmark.URL = it.URL
	case it.URL != "":
		return model.ProposedEntry{}, fmt.Errorf("url is only valid for bookmarks, not %s", t)
	default:
		p.Specifics.Data = []byte(it.Data)
	}
	return p, nil
}

func resolveRef(ref string) string {
	if tag, ok := strings.CutPrefix(ref, tagPrefix); ok && tag != "" {
		return syncstore.PermanentItemID(tag)
	}
	return ref
}

func validURL(s string) bool {
	pu, err := url.Parse(s)
	return err == nil && pu.Scheme != "" && (pu.Host != "" || pu.Opaque != "")
}

func autoUUID(id *string) {
	if *id == "" {
		v, _ := u.NewV4()
		*id = v.String()
	}
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
