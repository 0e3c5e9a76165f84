// Package syncstore is the authoritative entry store of the sync protocol.
//
// A Store owns a version clock, the latest state of every entry, the lazily
// materialized permanent items, sibling ordering keys and the change log that
// backs incremental "changes since version" reads. All mutations and reads are
// serialized by one mutex; every value handed out is a deep copy.
package syncstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/sync-keeper/internal/errs"
	"github.com/and161185/sync-keeper/internal/model"
)

const (
	// DefaultBatchSize bounds the number of entries returned by one GetChanges call.
	DefaultBatchSize = 100
	// DefaultPositionGap is the distance between a new head/tail sibling and its neighbour.
	DefaultPositionGap int64 = 1 << 20

	maxIDAttempts = 8
	// compaction of the change log starts only above this many slots
	minCompactSlots = 64
)

// Config is the static configuration consumed at construction.
type Config struct {
	BatchSize      int
	PositionGap    int64
	PermanentItems []PermanentItemSpec
}

// DefaultConfig returns the built-in batch size, gap and permanent item table.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		PositionGap:    DefaultPositionGap,
		PermanentItems: DefaultPermanentItems(),
	}
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator replaces the server id generator (UUIDv4 by default).
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock replaces the UpdatedAt time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// WithLogger attaches a logger; the store is silent by default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// record is the stored form of an entry. It never leaves the package.
type record struct {
	id                     string
	parentID               string
	version                int64
	position               int64
	name                   string
	specifics              model.Specifics
	folder                 bool
	deleted                bool
	serverTag              string
	originatorClientItemID string
	originatorClientGUID   string
	updatedAt              time.Time
}

func recordFromEntry(e model.Entry) *record {
	return &record{
		id:                     e.ID,
		parentID:               e.ParentID,
		version:                e.Version,
		position:               e.PositionInParent,
		name:                   e.Name,
		specifics:              e.Specifics.Clone(),
		folder:                 e.Folder,
		deleted:                e.Deleted,
		serverTag:              e.ServerTag,
		originatorClientItemID: e.OriginatorClientItemID,
		originatorClientGUID:   e.OriginatorClientGUID,
		updatedAt:              e.UpdatedAt,
	}
}

func (r *record) snapshot() model.Entry {
	return model.Entry{
		ID:                     r.id,
		ParentID:               r.parentID,
		Version:                r.version,
		PositionInParent:       r.position,
		Name:                   r.name,
		Specifics:              r.specifics.Clone(),
		Folder:                 r.folder,
		Deleted:                r.deleted,
		ServerTag:              r.serverTag,
		OriginatorClientItemID: r.originatorClientItemID,
		OriginatorClientGUID:   r.originatorClientGUID,
		UpdatedAt:              r.updatedAt,
	}
}

type logSlot struct {
	version int64
	id      string
}

// Store is a single authoritative entry store. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	clock     int64
	records   map[string]*record
	children  map[string]map[string]struct{}
	changelog []logSlot // ascending by version; slots superseded by a newer save are stale
	stale     int

	cfg       Config
	specByTag map[string]int

	newID func() (string, error)
	now   func() time.Time
	log   *zap.Logger
}

// New validates cfg and returns an empty store. A zero BatchSize or PositionGap
// and a nil permanent item table fall back to the defaults.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PositionGap == 0 {
		cfg.PositionGap = DefaultPositionGap
	}
	if cfg.PositionGap < 2 {
		return nil, fmt.Errorf("position gap %d: must be at least 2: %w", cfg.PositionGap, errs.ErrInvalidArgument)
	}
	if cfg.PermanentItems == nil {
		cfg.PermanentItems = DefaultPermanentItems()
	}
	if err := ValidatePermanentItems(cfg.PermanentItems); err != nil {
		return nil, err
	}
	cfg.PermanentItems = append([]PermanentItemSpec(nil), cfg.PermanentItems...)

	s := &Store{
		records:   make(map[string]*record),
		children:  make(map[string]map[string]struct{}),
		cfg:       cfg,
		specByTag: make(map[string]int, len(cfg.PermanentItems)),
		newID:     newUUID,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for i, spec := range cfg.PermanentItems {
		s.specByTag[spec.Tag] = i
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func newUUID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	cfg := s.cfg
	cfg.PermanentItems = append([]PermanentItemSpec(nil), s.cfg.PermanentItems...)
	return cfg
}

// Save assigns the next version to e, stores it under e.ID (overwriting prior
// state) and returns the version. It is the raw write path; Commit is the
// protocol-level one.
func (s *Store) Save(e model.Entry) (int64, error) {
	if e.ID == "" {
		return 0, fmt.Errorf("save: empty id: %w", errs.ErrInvalidArgument)
	}
	r := recordFromEntry(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(r), nil
}

// Exists reports whether an entry with id is stored (tombstones included).
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

// Get returns a copy of the stored entry.
func (s *Store) Get(id string) (model.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return model.Entry{}, false
	}
	return r.snapshot(), true
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Watermark returns the last version handed out.
func (s *Store) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// EntriesSince returns every entry with a version above since, ascending,
// regardless of type and without batching.
func (s *Store) EntriesSince(since int64) []model.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Entry
	s.scanLocked(since, func(r *record) bool {
		out = append(out, r.snapshot())
		return true
	})
	return out
}

// Restore loads persisted snapshots into an empty store. Versions are kept as
// given and the clock continues from the highest one.
func (s *Store) Restore(entries []model.Entry) error {
	sorted := make([]model.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 || s.clock > 0 {
		return fmt.Errorf("restore into non-empty store: %w", errs.ErrInvalidArgument)
	}

	records := make(map[string]*record, len(sorted))
	var last int64
	for i, e := range sorted {
		switch {
		case e.ID == "":
			return fmt.Errorf("restore entry[%d]: empty id: %w", i, errs.ErrInvalidArgument)
		case e.Version <= last:
			return fmt.Errorf("restore entry %q: version %d not increasing: %w", e.ID, e.Version, errs.ErrInvalidArgument)
		}
		if _, dup := records[e.ID]; dup {
			return fmt.Errorf("restore entry %q: duplicate id: %w", e.ID, errs.ErrInvalidArgument)
		}
		records[e.ID] = recordFromEntry(e)
		last = e.Version
	}

	for _, e := range sorted {
		r := records[e.ID]
		s.records[r.id] = r
		s.linkChild(r.parentID, r.id)
		s.changelog = append(s.changelog, logSlot{version: r.version, id: r.id})
	}
	s.clock = last
	return nil
}

// saveLocked stamps r with the next version and makes it the current state of r.id.
func (s *Store) saveLocked(r *record) int64 {
	s.clock++
	r.version = s.clock
	r.updatedAt = s.now().UTC()
	if old, ok := s.records[r.id]; ok {
		s.stale++
		if old.parentID != r.parentID {
			s.unlinkChild(old.parentID, r.id)
		}
	}
	s.records[r.id] = r
	s.linkChild(r.parentID, r.id)
	s.changelog = append(s.changelog, logSlot{version: r.version, id: r.id})
	s.compactLocked()
	return r.version
}

// scanLocked visits live entries with version > since in ascending version
// order until fn returns false.
func (s *Store) scanLocked(since int64, fn func(*record) bool) {
	start := sort.Search(len(s.changelog), func(i int) bool { return s.changelog[i].version > since })
	for _, slot := range s.changelog[start:] {
		r := s.records[slot.id]
		if r == nil || r.version != slot.version {
			continue
		}
		if !fn(r) {
			return
		}
	}
}

func (s *Store) compactLocked() {
	if len(s.changelog) < minCompactSlots || s.stale <= len(s.records) {
		return
	}
	live := make([]logSlot, 0, len(s.records))
	for _, slot := range s.changelog {
		if r := s.records[slot.id]; r != nil && r.version == slot.version {
			live = append(live, slot)
		}
	}
	s.changelog = live
	s.stale = 0
}

func (s *Store) linkChild(parentID, id string) {
	set, ok := s.children[parentID]
	if !ok {
		set = make(map[string]struct{})
		s.children[parentID] = set
	}
	set[id] = struct{}{}
}

func (s *Store) unlinkChild(parentID, id string) {
	set := s.children[parentID]
	delete(set, id)
	if len(set) == 0 {
		delete(s.children, parentID)
	}
}
