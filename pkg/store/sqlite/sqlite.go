// Package sqlite provides an entity store backed by an embedded SQLite
// database.
//
// Entities are stored as JSON documents of their attributes in a table keyed
// by (type, id). Every entity reachable from a saved root gets its own row,
// and the relations between them are kept as ordered links in a second
// table. Find rebuilds the requested entity together with the graph
// reachable from it, so a reloaded parent can be reconciled against its
// stored children.
//
// The database runs with WAL enabled so readers are not blocked by writers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/agentstation/formsync/pkg/constants"
	"github.com/agentstation/formsync/pkg/entity"
	"github.com/agentstation/formsync/pkg/errors"
	"github.com/agentstation/formsync/pkg/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS entities (
	type TEXT NOT NULL,
	id TEXT NOT NULL,
	body TEXT NOT NULL, -- JSON object of attributes
	updated_at TEXT NOT NULL,
	PRIMARY KEY (type, id)
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

CREATE TABLE IF NOT EXISTS relations (
	owner_type TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	relation TEXT NOT NULL,
	position INTEGER NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	PRIMARY KEY (owner_type, owner_id, relation, position)
);

CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_type, target_id);
`

// Store persists entities in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

var _ entity.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and initializes the
// schema. The caller must Close the store.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return nil, errors.WrapIO("create", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, errors.WrapResource("open", "database", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("open", "database", path, err)
	}

	db.SetMaxOpenConns(constants.MaxOpenConns)
	db.SetMaxIdleConns(constants.MaxIdleConns)
	db.SetConnMaxLifetime(constants.ConnMaxLifetime)

	s := &Store{db: db, path: path}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", constants.SQLiteBusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, errors.WrapResource("configure", "database", p, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapResource("initialize", "database", path, err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return errors.WrapResource("close", "database", s.path, err)
	}
	s.db = nil
	return nil
}

// Find implements entity.Store. Related entities are loaded as well; an
// entity reachable twice is loaded once.
func (s *Store) Find(ctx context.Context, t entity.Type, id any) (entity.Entity, error) {
	e := t.New()
	if err := s.load(ctx, t, e, entity.FormatID(id), make(map[string]entity.Entity)); err != nil {
		return nil, err
	}
	e.SetEntityID(id)
	return e, nil
}

// link is one stored relation edge of an owner.
type link struct {
	relation string
	targetID string
}

// load fills e with the row (t, key) and attaches its related entities.
func (s *Store) load(ctx context.Context, t entity.Type, e entity.Entity, key string, loaded map[string]entity.Entity) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM entities WHERE type = ? AND id = ?`, t.Name(), key).Scan(&body)
	if err == sql.ErrNoRows {
		return errors.NewNotFoundError(t.Name(), key)
	}
	if err != nil {
		return errors.WrapResource("find", t.Name(), key, err)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(body), &values); err != nil {
		return errors.WrapParse("json", t.Name()+"/"+key, err)
	}
	if err := entity.RestoreInto(t, e, values); err != nil {
		return err
	}
	e.SetEntityID(parseID(key))
	e.MarkPersisted()
	loaded[ref(t.Name(), key)] = e

	links, err := s.links(ctx, t.Name(), key)
	if err != nil {
		return err
	}
	for _, l := range links {
		info, ok := entity.LookupRelation(t, l.relation)
		if !ok {
			continue
		}
		rel, err := t.Relation(e, l.relation)
		if err != nil {
			return err
		}
		if err := s.attach(ctx, rel, info.Target, l.targetID, loaded); err != nil {
			return err
		}
	}
	return nil
}

// attach loads the target of one link into rel. An entity already loaded
// in this Find is attached again rather than reloaded. Links to rows that no
// longer exist are skipped.
func (s *Store) attach(ctx context.Context, rel entity.Relation, target entity.Type, id string, loaded map[string]entity.Entity) error {
	child, seen := loaded[ref(target.Name(), id)]
	if !seen {
		child = target.New()
		if err := s.load(ctx, target, child, id, loaded); err != nil {
			if errors.IsNotFound(err) {
				return nil
			}
			return err
		}
	}

	switch r := rel.(type) {
	case entity.SingleRelation:
		return r.Set(child)
	case entity.CollectionRelation:
		return r.Append(child)
	}
	return nil
}

func (s *Store) links(ctx context.Context, ownerType, ownerID string) ([]link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT relation, target_id FROM relations
		WHERE owner_type = ? AND owner_id = ?
		ORDER BY relation, position`, ownerType, ownerID)
	if err != nil {
		return nil, errors.WrapResource("find", ownerType+" relations", ownerID, err)
	}
	defer rows.Close()

	var links []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.relation, &l.targetID); err != nil {
			return nil, errors.WrapResource("scan", ownerType+" relations", ownerID, err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapResource("find", ownerType+" relations", ownerID, err)
	}
	return links, nil
}

// Save implements entity.Store. The graph is validated first and written in
// one transaction.
func (s *Store) Save(ctx context.Context, root entity.Entity) error {
	plan, err := entity.Plan(root)
	if err != nil {
		return err
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapResource("begin", "transaction", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range plan.Remove {
		key := entity.FormatID(n.Entity.EntityID())
		if key == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM entities WHERE type = ? AND id = ?`, n.Type.Name(), key); err != nil {
			return errors.WrapResource("delete", n.Type.Name(), key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM relations
			WHERE (owner_type = ? AND owner_id = ?) OR (target_type = ? AND target_id = ?)`,
			n.Type.Name(), key, n.Type.Name(), key); err != nil {
			return errors.WrapResource("delete", n.Type.Name()+" relations", key, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	var assigned []entity.Entity
	for _, n := range plan.Save {
		if entity.IsNilID(n.Entity.EntityID()) {
			id, err := nextID(ctx, tx, n.Type.Name())
			if err != nil {
				return err
			}
			n.Entity.SetEntityID(id)
			assigned = append(assigned, n.Entity)
		}
		if err := upsert(ctx, tx, n, now); err != nil {
			return err
		}
	}
	// every target has an id once all rows are written
	for _, n := range plan.Save {
		if err := relink(ctx, tx, n); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		// ids handed out inside the failed transaction are not valid
		for _, e := range assigned {
			e.SetEntityID(nil)
		}
		return errors.WrapResource("commit", "transaction", "", err)
	}

	for _, n := range plan.Save {
		n.Entity.MarkPersisted()
	}
	plan.Prune()

	logging.FromContext(ctx).Debug().
		Str("database", s.path).
		Int("saved", len(plan.Save)).
		Int("removed", len(plan.Remove)).
		Msg("Saved entity graph")
	return nil
}

// Count returns the number of stored entities of the named type.
func (s *Store) Count(ctx context.Context, typeName string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE type = ?`, typeName).Scan(&n)
	if err != nil {
		return 0, errors.WrapResource("count", typeName, "", err)
	}
	return n, nil
}

func nextID(ctx context.Context, tx *sql.Tx, typeName string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(CAST(id AS INTEGER)), 0) + 1 FROM entities WHERE type = ?`, typeName).Scan(&id)
	if err != nil {
		return 0, errors.WrapResource("allocate", typeName, "", err)
	}
	return max(id, constants.FirstID), nil
}

func upsert(ctx context.Context, tx *sql.Tx, n entity.Node, now string) error {
	key := entity.FormatID(n.Entity.EntityID())

	values, err := entity.Snapshot(n.Type, n.Entity)
	if err != nil {
		return err
	}
	body, err := json.Marshal(values)
	if err != nil {
		return errors.WrapParse("json", n.Type.Name()+"/"+key, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (type, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(type, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		n.Type.Name(), key, string(body), now)
	if err != nil {
		return errors.WrapResource("save", n.Type.Name(), key, err)
	}
	return nil
}

// relink replaces the stored links of n with its current relations.
// Children marked for removal are not linked.
func relink(ctx context.Context, tx *sql.Tx, n entity.Node) error {
	infos := n.Type.Relations()
	if len(infos) == 0 {
		return nil
	}
	owner, key := n.Type.Name(), entity.FormatID(n.Entity.EntityID())

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relations WHERE owner_type = ? AND owner_id = ?`, owner, key); err != nil {
		return errors.WrapResource("delete", owner+" relations", key, err)
	}

	for _, info := range infos {
		rel, err := n.Type.Relation(n.Entity, info.Name)
		if err != nil {
			return err
		}

		var targets []entity.Entity
		switch r := rel.(type) {
		case entity.SingleRelation:
			if target := r.Get(); target != nil {
				targets = append(targets, target)
			}
		case entity.CollectionRelation:
			for _, child := range r.Items() {
				if !child.MarkedForRemoval() {
					targets = append(targets, child)
				}
			}
		}

		for i, target := range targets {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO relations (owner_type, owner_id, relation, position, target_type, target_id)
				VALUES (?, ?, ?, ?, ?, ?)`,
				owner, key, info.Name, i, info.Target.Name(), entity.FormatID(target.EntityID())); err != nil {
				return errors.WrapResource("link", owner+"."+info.Name, key, err)
			}
		}
	}
	return nil
}

func ref(typeName, id string) string {
	return typeName + "/" + id
}

// parseID returns integer keys as int64, the type assigned by Save.
func parseID(key string) any {
	if n, err := strconv.ParseInt(key, 10, 64); err == nil {
		return n
	}
	return key
}
