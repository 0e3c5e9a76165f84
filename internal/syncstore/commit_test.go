package syncstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

type committer struct {
	t    *testing.T
	s    *Store
	typ  model.SyncType
	guid string
	sess *Session
}

// commit mirrors what a client sends: either a fresh entry (original == nil)
// or an update built from a previously returned entry.
func (c *committer) commit(original *model.Entry, id, name string, parent, prev *model.Entry) (model.ProposedEntry, model.Entry) {
	c.t.Helper()
	var p model.ProposedEntry
	if original != nil {
		p.ID = original.ID
		p.Version = original.Version
		p.ParentID = original.ParentID
		p.Name = original.Name
	} else {
		p.ID = id
	}
	p.Specifics = model.DefaultSpecifics(c.typ)
	if name != "" {
		p.Name = name
	}
	if parent != nil {
		p.ParentID = parent.ID
	}
	if prev != nil {
		p.InsertAfterItemID = prev.ID
	}
	p.Folder = true

	res, err := c.s.Commit(p, c.guid, c.sess)
	require.NoError(c.t, err)
	return p, res
}

func asEntry(p model.ProposedEntry) *model.Entry {
	return &model.Entry{ID: p.ID, Version: p.Version, ParentID: p.ParentID, Name: p.Name}
}

func TestCommit_EachDataType(t *testing.T) {
	t.Parallel()

	for _, typ := range model.AllTypes[1:] {
		s := newStore(t)
		c := &committer{t: t, s: s, typ: typ, guid: "112358132134", sess: NewSession()}

		originalVersion, originalChanges, err := s.GetChanges([]model.SyncType{typ}, 0)
		require.NoError(t, err)
		folder := originalChanges[len(originalChanges)-1]

		proto1, result1 := c.commit(nil, "Foo", "namae", &folder, nil)
		proto2, result2 := c.commit(nil, "Bar", "Secondo", asEntry(proto1), nil)
		proto3, result3 := c.commit(nil, "Baz", "Third!", asEntry(proto1), asEntry(proto2))

		require.Equal(t, 3, c.sess.Len())
		for _, pr := range []struct {
			p model.ProposedEntry
			r model.Entry
		}{{proto1, result1}, {proto2, result2}, {proto3, result3}} {
			require.NotEqual(t, pr.p.ID, pr.r.ID)
			require.Equal(t, pr.p.ID, pr.r.OriginatorClientItemID)
			require.Equal(t, "112358132134", pr.r.OriginatorClientGUID)
			mapped, ok := c.sess.ServerID(pr.p.ID)
			require.True(t, ok)
			require.Equal(t, pr.r.ID, mapped)
			require.Greater(t, pr.r.Version, originalVersion)
		}
		require.Equal(t, folder.ID, result1.ParentID)
		require.Equal(t, result1.ID, result2.ParentID)
		require.Equal(t, result1.ID, result3.ParentID)

		version, changes, err := s.GetChanges([]model.SyncType{typ}, originalVersion)
		require.NoError(t, err)
		require.Equal(t, originalVersion+3, version)
		require.Equal(t, []model.Entry{result1, result2, result3}, changes)
		require.Less(t, result2.PositionInParent, result3.PositionInParent)
		require.Equal(t, int64(0), result2.PositionInParent)

		// Second batch: references to first-batch items use server ids. Make
		// the second item the parent of the first, sandwiched between 4 and 5.
		c.sess = NewSession()
		oldGUID := c.guid
		c.guid = "A different GUID"
		proto2b, result2b := c.commit(&result2, "", "", &folder, nil)
		proto4, result4 := c.commit(nil, "ID4", "Four", &result2, nil)
		proto1b, result1b := c.commit(&result1, "", "", &result2, asEntry(proto4))
		proto5, result5 := c.commit(nil, "ID5", "Five", &result2, &result1)

		require.Equal(t, 2, c.sess.Len(), "only new items enter the session")
		for _, pr := range []struct {
			p, orig model.ProposedEntry
			r       model.Entry
			isNew   bool
		}{
			{proto2b, proto2, result2b, false},
			{proto4, proto4, result4, true},
			{proto1b, proto1, result1b, false},
			{proto5, proto5, result5, true},
		} {
			require.Equal(t, pr.orig.ID, pr.r.OriginatorClientItemID)
			if pr.isNew {
				require.NotEqual(t, pr.p.ID, pr.r.ID)
				require.Equal(t, c.guid, pr.r.OriginatorClientGUID)
				mapped, _ := c.sess.ServerID(pr.p.ID)
				require.Equal(t, pr.r.ID, mapped)
			} else {
				require.Equal(t, pr.p.ID, pr.r.ID, "ids are stable after first commit")
				require.Equal(t, oldGUID, pr.r.OriginatorClientGUID)
			}
			require.Greater(t, pr.r.Version, pr.p.Version)
		}

		version, changes, err = s.GetChanges([]model.SyncType{typ}, originalVersion)
		require.NoError(t, err)
		require.Len(t, changes, 5)
		require.Equal(t, originalVersion+7, version)
		require.Equal(t, []model.Entry{result3, result2b, result4, result1b, result5}, changes)
		require.Equal(t, result2b.ID, result4.ParentID)
		require.Equal(t, result2b.ID, result1b.ParentID)
		require.Equal(t, result2b.ID, result5.ParentID)
		require.Less(t, result4.PositionInParent, result1b.PositionInParent)
		require.Less(t, result1b.PositionInParent, result5.PositionInParent)
	}
}

func TestCommit_ResultIsIndependentOfStore(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	p := model.ProposedEntry{
		ID:        "client-1",
		Name:      "news",
		Specifics: model.Specifics{Type: model.Bookmark, Bookmark: &model.BookmarkSpecifics{URL: "https://news.example"}},
	}
	res, err := s.Commit(p, "guid", NewSession())
	require.NoError(t, err)

	res.Name = "mutated"
	res.Specifics.Bookmark.URL = "mutated"
	p.Specifics.Bookmark.URL = "mutated too"

	stored, _ := s.Get(res.ID)
	require.Equal(t, "news", stored.Name)
	require.Equal(t, "https://news.example", stored.Specifics.Bookmark.URL)
}

func TestCommit_NewItemDefaultsToTypeFolder(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	before := s.Watermark()

	res, err := s.Commit(model.ProposedEntry{ID: "pw", Specifics: model.DefaultSpecifics(model.Password)}, "g", nil)
	require.NoError(t, err)
	require.Equal(t, PermanentItemID("google_chrome_passwords"), res.ParentID)
	require.Greater(t, res.Version, before)
	require.Equal(t, int64(0), res.PositionInParent)
}

func TestCommit_UpdateBumpsVersionKeepsIdentity(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	first, err := s.Commit(model.ProposedEntry{ID: "c", Name: "v1", Specifics: model.DefaultSpecifics(model.Theme)}, "g1", nil)
	require.NoError(t, err)

	second, err := s.Commit(model.ProposedEntry{ID: first.ID, Version: first.Version, Name: "v2"}, "g2", nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Greater(t, second.Version, first.Version)
	require.Equal(t, "c", second.OriginatorClientItemID)
	require.Equal(t, "g1", second.OriginatorClientGUID)
	require.Equal(t, first.ParentID, second.ParentID, "empty parent keeps the current one")
	require.Equal(t, first.PositionInParent, second.PositionInParent, "re-placing in place is idempotent")
	require.Equal(t, model.Theme, second.Type(), "unspecified payload keeps the stored type")
	require.Equal(t, "v2", second.Name)
}

func TestCommit_SameClientIDTwiceInBatchUpdates(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	res := s.CommitBatch([]model.ProposedEntry{
		{ID: "x", Name: "draft", Specifics: model.DefaultSpecifics(model.Session)},
		{ID: "x", Name: "final", Specifics: model.DefaultSpecifics(model.Session)},
	}, "g")
	require.NoError(t, res[0].Err)
	require.NoError(t, res[1].Err)
	require.Equal(t, res[0].Entry.ID, res[1].Entry.ID)
	require.Greater(t, res[1].Entry.Version, res[0].Entry.Version)
	require.Equal(t, "x", res[1].ClientID)
}

func TestCommit_Tombstone(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	a, err := s.Commit(model.ProposedEntry{ID: "a", Specifics: model.Specifics{Type: model.Autofill, Data: []byte("x")}}, "g", nil)
	require.NoError(t, err)
	b, err := s.Commit(model.ProposedEntry{ID: "b", Specifics: model.DefaultSpecifics(model.Autofill), InsertAfterItemID: a.ID}, "g", nil)
	require.NoError(t, err)

	dead, err := s.Commit(model.ProposedEntry{ID: a.ID, Version: a.Version, Deleted: true}, "g", nil)
	require.NoError(t, err)
	require.True(t, dead.Deleted)
	require.Equal(t, model.Autofill, dead.Type())
	require.Nil(t, dead.Specifics.Data, "deletion drops the payload")
	require.Equal(t, a.PositionInParent, dead.PositionInParent)
	require.True(t, s.Exists(a.ID), "tombstones stay queryable")

	// a deleted sibling no longer anchors positions
	_, err = s.Commit(model.ProposedEntry{ID: "c", Specifics: model.DefaultSpecifics(model.Autofill), InsertAfterItemID: a.ID}, "g", nil)
	require.ErrorIs(t, err, errs.ErrReference)
	head, err := s.Commit(model.ProposedEntry{ID: "d", Specifics: model.DefaultSpecifics(model.Autofill)}, "g", nil)
	require.NoError(t, err)
	require.Less(t, head.PositionInParent, b.PositionInParent)
}

func TestCommit_ReferenceErrors(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	_, err := s.Commit(model.ProposedEntry{ID: "n", ParentID: "nowhere", Specifics: model.DefaultSpecifics(model.App)}, "g", nil)
	var re *errs.ReferenceError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "parent_id", re.Field)
	require.Equal(t, "nowhere", re.ID)

	// an empty folder places anything at 0, a populated one needs a real predecessor
	first, err := s.Commit(model.ProposedEntry{ID: "m", InsertAfterItemID: "ghost", Specifics: model.DefaultSpecifics(model.App)}, "g", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), first.PositionInParent)
	_, err = s.Commit(model.ProposedEntry{ID: "n", InsertAfterItemID: "ghost", Specifics: model.DefaultSpecifics(model.App)}, "g", nil)
	require.ErrorAs(t, err, &re)
	require.Equal(t, "insert_after_item_id", re.Field)

	_, err = s.Commit(model.ProposedEntry{ID: "server-id-never-issued", Version: 3}, "g", nil)
	require.ErrorAs(t, err, &re)
	require.Equal(t, "id", re.Field)
}

func TestCommit_InvalidArguments(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	require.NoError(t, s.EnsurePermanentItems([]model.SyncType{model.Bookmark}))

	parent, err := s.Commit(model.ProposedEntry{ID: "p", Folder: true, Specifics: model.DefaultSpecifics(model.Bookmark)}, "g", nil)
	require.NoError(t, err)
	child, err := s.Commit(model.ProposedEntry{ID: "c", ParentID: parent.ID, Specifics: model.DefaultSpecifics(model.Bookmark)}, "g", nil)
	require.NoError(t, err)

	cases := map[string]model.ProposedEntry{
		"empty id":          {Specifics: model.DefaultSpecifics(model.Bookmark)},
		"negative version":  {ID: "x", Version: -1, Specifics: model.DefaultSpecifics(model.Bookmark)},
		"untyped new entry": {ID: "x"},
		"type change":       {ID: child.ID, Version: child.Version, Specifics: model.DefaultSpecifics(model.Theme)},
		"own parent":        {ID: parent.ID, Version: parent.Version, ParentID: parent.ID},
		"descendant parent": {ID: parent.ID, Version: parent.Version, ParentID: child.ID},
		"permanent item":    {ID: PermanentItemID("bookmark_bar"), Version: 3, Name: "renamed"},
	}
	before := s.Watermark()
	for name, p := range cases {
		_, err := s.Commit(p, "g", nil)
		require.ErrorIs(t, err, errs.ErrInvalidArgument, name)
	}
	require.Equal(t, before, s.Watermark(), "failed commits leave no trace")
}

func TestCommit_IDCollisionRetries(t *testing.T) {
	t.Parallel()

	ids := []string{"taken", "taken", "fresh"}
	s := newStore(t, WithIDGenerator(func() (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}))
	_, err := s.Save(typedEntry("taken", model.Theme))
	require.NoError(t, err)

	res, err := s.Commit(model.ProposedEntry{ID: "c", Specifics: model.DefaultSpecifics(model.Theme)}, "g", nil)
	require.NoError(t, err)
	require.Equal(t, "fresh", res.ID)
}

func TestCommit_IDCollisionExhausted(t *testing.T) {
	t.Parallel()

	s := newStore(t, WithIDGenerator(func() (string, error) { return "taken", nil }))
	_, err := s.Save(typedEntry("taken", model.Theme))
	require.NoError(t, err)

	_, err = s.Commit(model.ProposedEntry{ID: "c", Specifics: model.DefaultSpecifics(model.Theme)}, "g", nil)
	require.ErrorIs(t, err, errs.ErrResourceExhausted)

	boom := errors.New("entropy")
	s = newStore(t, WithIDGenerator(func() (string, error) { return "", boom }))
	_, err = s.Commit(model.ProposedEntry{ID: "c", Specifics: model.DefaultSpecifics(model.Theme)}, "g", nil)
	require.ErrorIs(t, err, boom)
}

func TestCommitBatch_PerItemFailure(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	res := s.CommitBatch([]model.ProposedEntry{
		{ID: "ok1", Specifics: model.DefaultSpecifics(model.Extension)},
		{ID: "bad", ParentID: "missing", Specifics: model.DefaultSpecifics(model.Extension)},
		{ID: "child-of-bad", ParentID: "bad", Specifics: model.DefaultSpecifics(model.Extension)},
		{ID: "ok2", ParentID: "ok1", Specifics: model.DefaultSpecifics(model.Extension)},
	}, "g")
	require.Len(t, res, 4)
	require.NoError(t, res[0].Err)
	require.ErrorIs(t, res[1].Err, errs.ErrReference)
	require.Contains(t, res[1].Err.Error(), "entry[1]")
	require.ErrorIs(t, res[2].Err, errs.ErrReference)
	require.NoError(t, res[3].Err)
	require.Equal(t, res[0].Entry.ID, res[3].Entry.ParentID)
	require.Equal(t, model.Entry{}, res[1].Entry)
}

func TestCommitBatch_ConcurrentClientsGetUniqueVersionsAndIDs(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	const clients, perBatch = 8, 25
	results := make([][]model.CommitResult, clients)
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			batch := make([]model.ProposedEntry, perBatch)
			for i := range batch {
				batch[i] = model.ProposedEntry{ID: fmt.Sprintf("c%d-%d", c, i), Specifics: model.DefaultSpecifics(model.Nigori)}
				if i > 0 {
					batch[i].InsertAfterItemID = batch[i-1].ID
				}
			}
			results[c] = s.CommitBatch(batch, fmt.Sprintf("guid-%d", c))
		}(c)
	}
	wg.Wait()

	versions := map[int64]bool{}
	ids := map[string]bool{}
	for _, rs := range results {
		for _, r := range rs {
			require.NoError(t, r.Err)
			require.False(t, versions[r.Entry.Version], "duplicate version %d", r.Entry.Version)
			require.False(t, ids[r.Entry.ID], "duplicate id %s", r.Entry.ID)
			versions[r.Entry.Version] = true
			ids[r.Entry.ID] = true
		}
	}
	require.Len(t, ids, clients*perBatch)
}

func TestCommit_FailedEntryDoesNotCreateDefaultFolder(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	apps := PermanentItemID("google_chrome_apps")
	// a restored child whose folder was never materialized
	require.NoError(t, s.Restore([]model.Entry{
		{ID: "orphan", ParentID: apps, Version: 1, Specifics: model.DefaultSpecifics(model.App)},
	}))

	_, err := s.Commit(model.ProposedEntry{ID: "n", InsertAfterItemID: "ghost", Specifics: model.DefaultSpecifics(model.App)}, "g", nil)
	require.ErrorIs(t, err, errs.ErrReference)
	require.False(t, s.Exists(apps))
	require.Equal(t, int64(1), s.Watermark())

	e, err := s.Commit(model.ProposedEntry{ID: "n", InsertAfterItemID: "orphan", Specifics: model.DefaultSpecifics(model.App)}, "g", nil)
	require.NoError(t, err)
	require.Equal(t, apps, e.ParentID)
	require.True(t, s.Exists(apps))
	require.Equal(t, s.Watermark(), e.Version, "folder versions come before the entry")
}
