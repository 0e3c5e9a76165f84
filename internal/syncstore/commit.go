package syncstore

import (
	"fmt"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

// Session maps client-proposed ids to server-assigned ids for the duration of
// one commit batch. It is not safe for concurrent use.
type Session struct {
	ids map[string]string
}

// NewSession returns an empty commit session.
func NewSession() *Session {
	return &Session{ids: make(map[string]string)}
}

// ServerID returns the server id assigned to clientID in this session.
func (ss *Session) ServerID(clientID string) (string, bool) {
	id, ok := ss.ids[clientID]
	return id, ok
}

// Len returns the number of entries created in this session.
func (ss *Session) Len() int { return len(ss.ids) }

func (ss *Session) resolve(id string) string {
	if mapped, ok := ss.ids[id]; ok {
		return mapped
	}
	return id
}

// Commit reconciles one proposed entry: it assigns a server id to new
// entries, resolves parent and predecessor through sess, computes the sibling
// position, stores the result under the next version and returns a copy.
func (s *Store) Commit(p model.ProposedEntry, clientGUID string, sess *Session) (model.Entry, error) {
	if sess == nil {
		sess = NewSession()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(p, clientGUID, sess)
}

// CommitBatch commits entries in order sharing one session. Failures are
// per entry: a failed entry is reported in its result and the rest of the
// batch still runs. A failed entry writes nothing, except that siblings
// renumbered before an ErrInternalInvariant keep their new keys.
func (s *Store) CommitBatch(batch []model.ProposedEntry, clientGUID string) []model.CommitResult {
	sess := NewSession()
	out := make([]model.CommitResult, 0, len(batch))

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range batch {
		e, err := s.commitLocked(p, clientGUID, sess)
		if err != nil {
			err = fmt.Errorf("entry[%d] %q: %w", i, p.ID, err)
		}
		out = append(out, model.CommitResult{ClientID: p.ID, Entry: e, Err: err})
	}
	return out
}

func (s *Store) commitLocked(p model.ProposedEntry, clientGUID string, sess *Session) (model.Entry, error) {
	if p.ID == "" {
		return model.Entry{}, fmt.Errorf("empty id: %w", errs.ErrInvalidArgument)
	}
	if p.Version < 0 {
		return model.Entry{}, fmt.Errorf("negative version %d: %w", p.Version, errs.ErrInvalidArgument)
	}

	cur, err := s.lookupTargetLocked(p, sess)
	if err != nil {
		return model.Entry{}, err
	}
	if cur != nil && cur.serverTag != "" {
		return model.Entry{}, fmt.Errorf("permanent item %q is server-owned: %w", cur.serverTag, errs.ErrInvalidArgument)
	}

	next := &record{}
	if cur != nil {
		*next = *cur
		next.specifics = cur.specifics.Clone()
	} else {
		id, err := s.allocateIDLocked()
		if err != nil {
			return model.Entry{}, err
		}
		next.id = id
		next.originatorClientItemID = p.ID
		next.originatorClientGUID = clientGUID
	}
	if err := applySpecifics(next, cur, p); err != nil {
		return model.Entry{}, err
	}
	next.name = p.Name
	next.folder = p.Folder
	next.deleted = p.Deleted

	parentID, bootstrap, err := s.resolveParentLocked(p, cur, next, sess)
	if err != nil {
		return model.Entry{}, err
	}
	next.parentID = parentID

	if !next.deleted {
		pos, err := s.positionLocked(parentID, sess.resolve(p.InsertAfterItemID), next.id)
		if err != nil {
			return model.Entry{}, err
		}
		next.position = pos
	}

	// the default folder is created only once nothing else can fail
	if bootstrap >= 0 {
		s.materializeLocked(bootstrap)
	}
	s.saveLocked(next)
	if cur == nil {
		sess.ids[p.ID] = next.id
	}
	return next.snapshot(), nil
}

// lookupTargetLocked returns the stored entry p updates, or nil for a new entry.
func (s *Store) lookupTargetLocked(p model.ProposedEntry, sess *Session) (*record, error) {
	if mapped, ok := sess.ServerID(p.ID); ok {
		return s.records[mapped], nil
	}
	if r, ok := s.records[p.ID]; ok {
		return r, nil
	}
	if p.Version == 0 {
		return nil, nil
	}
	return nil, &errs.ReferenceError{Field: "id", ID: p.ID}
}

func applySpecifics(next, cur *record, p model.ProposedEntry) error {
	typ := p.Specifics.Type
	switch {
	case cur == nil:
		if !typ.Valid() {
			return fmt.Errorf("new entry with sync type %v: %w", typ, errs.ErrInvalidArgument)
		}
		next.specifics = p.Specifics.Clone()
	case typ == model.Unspecified:
		if p.Deleted {
			next.specifics = model.Specifics{Type: cur.specifics.Type}
		}
	case !typ.Valid():
		return fmt.Errorf("sync type %v: %w", typ, errs.ErrInvalidArgument)
	case cur.specifics.Type != model.Unspecified && cur.specifics.Type != typ:
		return fmt.Errorf("sync type change %v -> %v: %w", cur.specifics.Type, typ, errs.ErrInvalidArgument)
	default:
		next.specifics = p.Specifics.Clone()
	}
	return nil
}

// resolveParentLocked returns the parent id of next. For a new entry without a
// parent it also returns the index of the permanent spec to materialize, or -1.
func (s *Store) resolveParentLocked(p model.ProposedEntry, cur, next *record, sess *Session) (string, int, error) {
	parentID := p.ParentID
	if parentID == "" {
		if cur != nil {
			return cur.parentID, -1, nil
		}
		i, ok := s.defaultParentSpec(next.specifics.Type)
		if !ok {
			return "", -1, &errs.ReferenceError{Field: "parent_id", ID: ""}
		}
		id := PermanentItemID(s.cfg.PermanentItems[i].Tag)
		if _, exists := s.records[id]; exists {
			return id, -1, nil
		}
		return id, i, nil
	}
	parentID = sess.resolve(parentID)
	if _, ok := s.records[parentID]; !ok {
		return "", -1, &errs.ReferenceError{Field: "parent_id", ID: p.ParentID}
	}
	if cur != nil {
		if err := s.checkAncestryLocked(cur.id, parentID); err != nil {
			return "", -1, err
		}
	}
	return parentID, -1, nil
}

// checkAncestryLocked fails when parentID is id itself or one of its descendants.
func (s *Store) checkAncestryLocked(id, parentID string) error {
	for hop, cur := 0, parentID; hop <= len(s.records); hop++ {
		if cur == id {
			return fmt.Errorf("entry %q cannot be its own ancestor: %w", id, errs.ErrInvalidArgument)
		}
		r, ok := s.records[cur]
		if !ok || r.parentID == cur {
			return nil
		}
		cur = r.parentID
	}
	return fmt.Errorf("parent chain of %q does not terminate: %w", parentID, errs.ErrInternalInvariant)
}

func (s *Store) allocateIDLocked() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("generate id: %w", err)
		}
		if id == "" || id == RootParentID {
			continue
		}
		if _, taken := s.records[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("no free server id after %d attempts: %w", maxIDAttempts, errs.ErrResourceExhausted)
}
