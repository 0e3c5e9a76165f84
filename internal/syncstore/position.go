package syncstore

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/and161185/sync-keeper/internal/errs"
)

// errNoHeadroom signals that no key fits between the requested neighbours.
var errNoHeadroom = errors.New("no position headroom")

type sibling struct {
	id  string
	pos int64
}

// placeAfter computes the key for moving placed right after pred (at the head
// when pred is empty). sibs must be sorted by (pos, id).
func placeAfter(sibs []sibling, moving, pred string, gap int64) (int64, error) {
	if pred == moving {
		pred = ""
	}
	if self := indexOf(sibs, moving); self >= 0 {
		// already in the requested slot
		if pred == "" && self == 0 {
			return sibs[0].pos, nil
		}
		if pred != "" && self > 0 && sibs[self-1].id == pred {
			return sibs[self].pos, nil
		}
		rest := make([]sibling, 0, len(sibs)-1)
		rest = append(rest, sibs[:self]...)
		sibs = append(rest, sibs[self+1:]...)
	}

	// an empty parent takes key 0 whatever the predecessor
	if len(sibs) == 0 {
		return 0, nil
	}
	i := indexOf(sibs, pred)
	if pred != "" && i < 0 {
		return 0, &errs.ReferenceError{Field: "insert_after_item_id", ID: pred}
	}
	if pred == "" {
		first := sibs[0].pos
		if first < math.MinInt64+gap {
			return 0, errNoHeadroom
		}
		return first - gap, nil
	}

	p := sibs[i].pos
	if i == len(sibs)-1 {
		if p > math.MaxInt64-gap {
			return 0, errNoHeadroom
		}
		return p + gap, nil
	}
	next := sibs[i+1].pos
	if next <= p {
		return 0, errNoHeadroom
	}
	d := uint64(next) - uint64(p)
	if d < 2 {
		return 0, errNoHeadroom
	}
	return p + int64(d/2), nil
}

func indexOf(sibs []sibling, id string) int {
	if id == "" {
		return -1
	}
	for i, s := range sibs {
		if s.id == id {
			return i
		}
	}
	return -1
}

// ComputePosition returns the key movingID gets when placed under parentID right
// after predecessorID. It does not move movingID itself, but may renumber the
// other siblings when the gap between the neighbours is exhausted.
func (s *Store) ComputePosition(parentID, predecessorID, movingID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked(parentID, predecessorID, movingID)
}

func (s *Store) positionLocked(parentID, predID, movingID string) (int64, error) {
	pos, err := placeAfter(s.siblingsLocked(parentID), movingID, predID, s.cfg.PositionGap)
	if !errors.Is(err, errNoHeadroom) {
		return pos, err
	}
	if err := s.renumberLocked(parentID, movingID); err != nil {
		return 0, err
	}
	pos, err = placeAfter(s.siblingsLocked(parentID), movingID, predID, s.cfg.PositionGap)
	if errors.Is(err, errNoHeadroom) {
		return 0, fmt.Errorf("position under %q after %q: %w", parentID, predID, errs.ErrInternalInvariant)
	}
	return pos, err
}

// siblingsLocked returns the live children of parentID ordered by (key, id).
func (s *Store) siblingsLocked(parentID string) []sibling {
	set := s.children[parentID]
	out := make([]sibling, 0, len(set))
	for id := range set {
		r := s.records[id]
		if r == nil || r.deleted {
			continue
		}
		out = append(out, sibling{id: id, pos: r.position})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pos != out[j].pos {
			return out[i].pos < out[j].pos
		}
		return out[i].id < out[j].id
	})
	return out
}

// renumberLocked spreads the siblings of parentID (except movingID) evenly
// around zero, keeping their order. Every moved sibling gets a new version.
// Nothing is written when the spread does not fit in int64.
func (s *Store) renumberLocked(parentID, movingID string) error {
	sibs := s.siblingsLocked(parentID)
	if i := indexOf(sibs, movingID); i >= 0 {
		sibs = append(sibs[:i], sibs[i+1:]...)
	}
	n := len(sibs)
	half := n / 2
	if steps := int64(max(half, n-1-half)); steps > 0 && steps > math.MaxInt64/s.cfg.PositionGap {
		return fmt.Errorf("renumber %d siblings under %q with gap %d: %w",
			n, parentID, s.cfg.PositionGap, errs.ErrInternalInvariant)
	}
	moved := 0
	for i, sib := range sibs {
		want := int64(i-half) * s.cfg.PositionGap
		if sib.pos == want {
			continue
		}
		next := *s.records[sib.id]
		next.specifics = next.specifics.Clone()
		next.position = want
		s.saveLocked(&next)
		moved++
	}
	s.log.Warn("sibling positions renumbered",
		zap.String("parent", parentID), zap.Int("siblings", n), zap.Int("moved", moved))
	return nil
}
