// Package memory provides an in-memory entity store for tests, dry runs
// and short-lived processes.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/logging"
)

// Option is a function that configures a Store
type Option func(*config) error

// WithReadOnly configures the Store to reject saves
func WithReadOnly(readOnly bool) Option {
	return func(cfg *config) error {
		cfg.readOnly = readOnly
		return nil
	}
}

// WithIDStart sets the first identity assigned to unsaved entities
func WithIDStart(start int64) Option {
	return func(cfg *config) error {
		if start < 1 {
			return fmt.Errorf("id start must be positive, got %d", start)
		}
		cfg.idStart = start
		return nil
	}
}

// config is the configuration for a Store
type config struct {
	readOnly bool
	idStart  int64
}

// Store keeps saved entities in maps keyed by type name and id. Find returns
// the saved instance itself.
type Store struct {
	mu       sync.RWMutex
	readOnly bool
	idStart  int64
	next     map[string]int64
	rows     map[string]map[string]entity.Entity
}

var _ entity.Store = (*Store)(nil)

// New creates an empty in-memory store
func New(opts ...Option) (*Store, error) {
	cfg := &config{idStart: constants.FirstID}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying memory option: %w", err)
		}
	}
	return &Store{
		readOnly: cfg.readOnly,
		idStart:  cfg.idStart,
		next:     make(map[string]int64),
		rows:     make(map[string]map[string]entity.Entity),
	}, nil
}

// Find implements entity.Store.
func (s *Store) Find(_ context.Context, t entity.Type, id any) (entity.Entity, error) {
	key := entity.FormatID(id)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.rows[t.Name()][key]; ok {
		return e, nil
	}
	return nil, errors.NewNotFoundError(t.Name(), key)
}

// Save implements entity.Store. The whole graph is validated before
// anything is written.
func (s *Store) Save(ctx context.Context, e entity.Entity) error {
	if s.readOnly {
		return errors.ErrReadOnly
	}

	plan, err := entity.Plan(e)
	if err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, n := range plan.Remove {
		if key := entity.FormatID(n.Entity.EntityID()); key != "" {
			delete(s.rows[n.Type.Name()], key)
		}
	}
	for _, n := range plan.Save {
		s.put(n.Type.Name(), n.Entity)
	}
	s.mu.Unlock()

	plan.Prune()

	logging.FromContext(ctx).Debug().
		Int("saved", len(plan.Save)).
		Int("removed", len(plan.Remove)).
		Msg("Saved entity graph")
	return nil
}

// put stores e, assigning an id when it has none. Caller holds the lock.
func (s *Store) put(typeName string, e entity.Entity) {
	if entity.IsNilID(e.EntityID()) {
		e.SetEntityID(s.allocate(typeName))
	}
	s.observe(typeName, e.EntityID())

	rows, ok := s.rows[typeName]
	if !ok {
		rows = make(map[string]entity.Entity)
		s.rows[typeName] = rows
	}
	rows[entity.FormatID(e.EntityID())] = e
	e.MarkPersisted()
}

func (s *Store) allocate(typeName string) int64 {
	next, ok := s.next[typeName]
	if !ok {
		next = s.idStart
	}
	for {
		if _, taken := s.rows[typeName][cast.ToString(next)]; !taken {
			break
		}
		next++
	}
	s.next[typeName] = next + 1
	return next
}

// observe keeps the allocator ahead of explicitly assigned numeric ids.
func (s *Store) observe(typeName string, id any) {
	n, err := cast.ToInt64E(id)
	if err != nil {
		return
	}
	if next, ok := s.next[typeName]; !ok || n >= next {
		s.next[typeName] = max(n+1, s.idStart)
	}
}

// Count returns the number of saved entities of the named type.
func (s *Store) Count(typeName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows[typeName])
}

// All returns the saved entities of the named type ordered by id.
func (s *Store) All(typeName string) []entity.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]entity.Entity, 0, len(s.rows[typeName]))
	for _, e := range s.rows[typeName] {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b entity.Entity) int {
		return compareIDs(a.EntityID(), b.EntityID())
	})
	return out
}

// IsReadOnly returns whether the store rejects saves
func (s *Store) IsReadOnly() bool {
	return s.readOnly
}

func compareIDs(a, b any) int {
	an, errA := cast.ToInt64E(a)
	bn, errB := cast.ToInt64E(b)
	if errA == nil && errB == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	}
	return strings.Compare(entity.FormatID(a), entity.FormatID(b))
}
