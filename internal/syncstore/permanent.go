package syncstore

import (
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

const (
	// RootParentTag is the ParentTag of the root spec: it has no parent.
	RootParentTag = "0"
	// RootParentID is the ParentID stored on the root permanent item.
	RootParentID = "0"
)

// PermanentItemSpec describes a server-defined folder materialized on demand.
type PermanentItemSpec struct {
	Tag       string
	ParentTag string // RootParentTag for the root spec
	SyncType  model.SyncType
	Name      string
}

var permanentNamespace = uuid.NewV5(uuid.NamespaceURL, "https://github.com/and161185/sync-keeper/permanent-items")

// PermanentItemID derives the server id of the permanent item with the given tag.
func PermanentItemID(tag string) string {
	return uuid.NewV5(permanentNamespace, tag).String()
}

// DefaultPermanentItems returns the built-in table in declaration order.
func DefaultPermanentItems() []PermanentItemSpec {
	return []PermanentItemSpec{
		{Tag: "google_chrome", ParentTag: RootParentTag, SyncType: model.TopLevel, Name: "Google Chrome"},
		{Tag: "google_chrome_bookmarks", ParentTag: "google_chrome", SyncType: model.Bookmark, Name: "Bookmarks"},
		{Tag: "bookmark_bar", ParentTag: "google_chrome_bookmarks", SyncType: model.Bookmark, Name: "Bookmark Bar"},
		{Tag: "other_bookmarks", ParentTag: "google_chrome_bookmarks", SyncType: model.Bookmark, Name: "Other Bookmarks"},
		{Tag: "google_chrome_preferences", ParentTag: "google_chrome", SyncType: model.Preference, Name: "Preferences"},
		{Tag: "google_chrome_autofill", ParentTag: "google_chrome", SyncType: model.Autofill, Name: "Autofill"},
		{Tag: "google_chrome_themes", ParentTag: "google_chrome", SyncType: model.Theme, Name: "Themes"},
		{Tag: "google_chrome_typed_urls", ParentTag: "google_chrome", SyncType: model.TypedURL, Name: "Typed URLs"},
		{Tag: "google_chrome_nigori", ParentTag: "google_chrome", SyncType: model.Nigori, Name: "Nigori"},
		{Tag: "google_chrome_passwords", ParentTag: "google_chrome", SyncType: model.Password, Name: "Passwords"},
		{Tag: "google_chrome_extensions", ParentTag: "google_chrome", SyncType: model.Extension, Name: "Extensions"},
		{Tag: "google_chrome_sessions", ParentTag: "google_chrome", SyncType: model.Session, Name: "Sessions"},
		{Tag: "google_chrome_apps", ParentTag: "google_chrome", SyncType: model.App, Name: "Apps"},
	}
}

// ValidatePermanentItems checks that specs form a tree rooted at the first
// spec, with every parent declared before its children.
func ValidatePermanentItems(specs []PermanentItemSpec) error {
	if len(specs) == 0 {
		return fmt.Errorf("permanent items: empty table: %w", errs.ErrInvalidArgument)
	}
	root := specs[0]
	if root.ParentTag != RootParentTag || root.SyncType != model.TopLevel {
		return fmt.Errorf("permanent items: first spec %q must be the top level root: %w", root.Tag, errs.ErrInvalidArgument)
	}
	declared := map[string]bool{}
	for i, spec := range specs {
		switch {
		case spec.Tag == "" || spec.Tag == RootParentTag:
			return fmt.Errorf("permanent items[%d]: bad tag %q: %w", i, spec.Tag, errs.ErrInvalidArgument)
		case declared[spec.Tag]:
			return fmt.Errorf("permanent items[%d]: duplicate tag %q: %w", i, spec.Tag, errs.ErrInvalidArgument)
		case !spec.SyncType.Valid():
			return fmt.Errorf("permanent items[%d]: %q has invalid sync type: %w", i, spec.Tag, errs.ErrInvalidArgument)
		case i > 0 && !declared[spec.ParentTag]:
			return fmt.Errorf("permanent items[%d]: parent %q of %q not declared earlier: %w",
				i, spec.ParentTag, spec.Tag, errs.ErrInvalidArgument)
		}
		declared[spec.Tag] = true
	}
	return nil
}

// EnsurePermanentItems materializes the permanent items of types (and the root)
// that do not exist yet. Existing items are never touched.
func (s *Store) EnsurePermanentItems(types []model.SyncType) error {
	if _, err := typeSet(types); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensurePermanentLocked(types)
	return nil
}

func (s *Store) ensurePermanentLocked(types []model.SyncType) {
	want := map[model.SyncType]bool{model.TopLevel: true}
	for _, t := range types {
		want[t] = true
	}
	for i, spec := range s.cfg.PermanentItems {
		if want[spec.SyncType] {
			s.materializeLocked(i)
		}
	}
}

// materializeLocked creates spec i (ancestors first) unless it exists and returns its id.
func (s *Store) materializeLocked(i int) string {
	spec := s.cfg.PermanentItems[i]
	id := PermanentItemID(spec.Tag)
	if _, ok := s.records[id]; ok {
		return id
	}
	parentID := RootParentID
	if i > 0 {
		parentID = s.materializeLocked(s.specByTag[spec.ParentTag])
	}
	ver := s.saveLocked(&record{
		id:        id,
		parentID:  parentID,
		name:      spec.Name,
		specifics: model.DefaultSpecifics(spec.SyncType),
		folder:    true,
		serverTag: spec.Tag,
	})
	s.log.Debug("permanent item created", zap.String("tag", spec.Tag), zap.Int64("version", ver))
	return id
}

// DefaultParentFor returns the id of the folder that receives new entries of t
// committed without a parent, creating it if needed.
func (s *Store) DefaultParentFor(t model.SyncType) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultParentLocked(t)
}

func (s *Store) defaultParentLocked(t model.SyncType) (string, bool) {
	i, ok := s.defaultParentSpec(t)
	if !ok {
		return "", false
	}
	return s.materializeLocked(i), true
}

// defaultParentSpec returns the index of the spec holding new entries of t.
func (s *Store) defaultParentSpec(t model.SyncType) (int, bool) {
	if t == model.TopLevel {
		return 0, true
	}
	rootTag := s.cfg.PermanentItems[0].Tag
	for i, spec := range s.cfg.PermanentItems {
		if spec.SyncType == t && spec.ParentTag == rootTag {
			return i, true
		}
	}
	return -1, false
}
