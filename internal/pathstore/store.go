// Package pathstore implements the closure-table hierarchy store (CHS,
// spec §4.2) shared by the local priority database and the remote metadata
// database. It is domain-agnostic: callers attach whatever meaning they
// like to the per-node "value" column (priority for LPDB, last_sync for
// RMDB) and to the "directory" flag.
package pathstore

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/lostatc/zielen/internal/pathid"
)

// Node is a single row of the nodes table.
type Node struct {
	ID        pathid.ID
	Path      string
	Directory bool
	Value     float64
}

// ClosureEdge is a single row of the closure table.
type ClosureEdge struct {
	Ancestor   pathid.ID
	Descendant pathid.ID
	Depth      int
}

// Insert describes one path to add to the store.
type Insert struct {
	Path      string
	Directory bool
	Value     float64
}

// Store wraps a *sql.DB holding one CHS instance.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if absent) the SQLite database at dbPath and brings
// its schema up to date. walMode selects SQLite's WAL journal (LPDB uses
// true); without it (RMDB, which several clients may write concurrently)
// a busy timeout makes SQLite retry a locked database for up to five
// seconds before failing. Either way the handle holds one connection, so
// writes through it are serialized.
func Open(ctx context.Context, dbPath string, logger *slog.Logger, walMode bool) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := dbPath
	if walMode {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	} else {
		dsn += "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaltFor implements pathid.Resolver.
func (s *Store) SaltFor(path string) (string, error) {
	var salt string

	err := s.db.QueryRow(`SELECT salt FROM collisions WHERE path = ?`, path).Scan(&salt)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("reading salt for %q: %w", path, err)
	}

	return salt, nil
}

// parentOf returns the relative parent directory path of rel ("" for
// top-level entries), following the same separator-aligned convention as
// the rest of the spec.
func parentOf(rel string) string {
	if rel == "" {
		return ""
	}

	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}

	return dir
}

func depthOf(rel string) int {
	if rel == "" {
		return 0
	}

	return strings.Count(rel, "/") + 1
}

func randomSalt() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}

// InsertPaths inserts a batch of new paths, implementing the collision-
// retry-until-stable protocol of spec §4.1: tentative ids are computed from
// each path's current salt; any id that collides with a different
// already-known path causes that new path to be assigned a fresh random
// salt and the whole batch is retried. Existing rows (insert-ignore
// semantics) are left untouched. Ancestors implied by a path (e.g.
// "a/b/c.txt" implies directories "a" and "a/b") are NOT created
// automatically — callers (LPDB/RMDB) are responsible for passing explicit
// directory entries, matching the spec's "separate file/dir arguments
// exist solely to mark empty directories" note; non-empty intermediate
// directories are still marked directory=true by the parent-marking step
// below even if never listed explicitly.
func (s *Store) InsertPaths(ctx context.Context, inserts []Insert) error {
	if len(inserts) == 0 {
		return nil
	}

	ordered := make([]Insert, len(inserts))
	copy(ordered, inserts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depthOf(ordered[i].Path) < depthOf(ordered[j].Path)
	})

	for attempt := 0; ; attempt++ {
		if attempt > 1000 {
			return fmt.Errorf("insert paths: collision retry loop did not converge")
		}

		collided, err := s.insertAttempt(ctx, ordered)
		if err != nil {
			return err
		}

		if !collided {
			return nil
		}
	}
}

// insertAttempt performs one pass of the collision-retry loop. It returns
// collided=true if any tentative id collided and the caller should retry.
func (s *Store) insertAttempt(ctx context.Context, ordered []Insert) (collided bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ids := make(map[string]pathid.ID, len(ordered))

	for _, ins := range ordered {
		salt, err := s.saltForTx(tx, ins.Path)
		if err != nil {
			return false, err
		}

		ids[ins.Path] = pathid.Compute(ins.Path, salt)
	}

	anyCollision := false

	for _, ins := range ordered {
		id := ids[ins.Path]

		var existingPath string

		row := tx.QueryRowContext(ctx, `SELECT path FROM nodes WHERE id = ?`, int64(id))
		scanErr := row.Scan(&existingPath)

		switch {
		case scanErr == sql.ErrNoRows:
			continue
		case scanErr != nil:
			return false, fmt.Errorf("checking collision for %q: %w", ins.Path, scanErr)
		case existingPath == ins.Path:
			continue
		default:
			salt, err := randomSalt()
			if err != nil {
				return false, fmt.Errorf("generating collision salt: %w", err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO collisions (path, salt) VALUES (?, ?)
				 ON CONFLICT(path) DO UPDATE SET salt = excluded.salt`,
				ins.Path, salt,
			); err != nil {
				return false, fmt.Errorf("recording collision for %q: %w", ins.Path, err)
			}

			anyCollision = true
		}
	}

	if anyCollision {
		// Abandon this attempt; the caller retries with fresh salts.
		return true, tx.Commit()
	}

	for _, ins := range ordered {
		if err := s.insertOneTx(ctx, tx, ins, ids[ins.Path]); err != nil {
			return false, err
		}
	}

	return false, tx.Commit()
}

func (s *Store) saltForTx(tx *sql.Tx, p string) (string, error) {
	var salt string

	err := tx.QueryRow(`SELECT salt FROM collisions WHERE path = ?`, p).Scan(&salt)
	if err == sql.ErrNoRows {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("reading salt for %q: %w", p, err)
	}

	return salt, nil
}

func (s *Store) insertOneTx(ctx context.Context, tx *sql.Tx, ins Insert, id pathid.ID) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (id, path, directory, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		int64(id), ins.Path, boolToInt(ins.Directory), ins.Value,
	); err != nil {
		return fmt.Errorf("inserting node %q: %w", ins.Path, err)
	}

	// Self edge.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO closure (ancestor, descendant, depth) VALUES (?, ?, 0)
		 ON CONFLICT(ancestor, descendant) DO NOTHING`,
		int64(id), int64(id),
	); err != nil {
		return fmt.Errorf("inserting self edge for %q: %w", ins.Path, err)
	}

	parentPath := parentOf(ins.Path)
	if parentPath == "" && ins.Path == "" {
		return nil
	}

	if parentPath == "" {
		// Top-level entry: its only ancestor is the implicit root, which is
		// not itself a node row, so there is nothing further to link.
		return nil
	}

	parentID, err := s.idForPathTx(tx, parentPath)
	if err != nil {
		return fmt.Errorf("resolving parent %q of %q: %w", parentPath, ins.Path, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE nodes SET directory = 1 WHERE id = ?`, int64(parentID),
	); err != nil {
		return fmt.Errorf("marking parent %q as directory: %w", parentPath, err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT ancestor, depth FROM closure WHERE descendant = ?`, int64(parentID))
	if err != nil {
		return fmt.Errorf("reading parent closure for %q: %w", parentPath, err)
	}
	defer rows.Close()

	type edge struct {
		ancestor int64
		depth    int
	}

	var edges []edge

	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.ancestor, &e.depth); err != nil {
			return fmt.Errorf("scanning parent closure row: %w", err)
		}

		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	for _, e := range edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO closure (ancestor, descendant, depth) VALUES (?, ?, ?)
			 ON CONFLICT(ancestor, descendant) DO NOTHING`,
			e.ancestor, int64(id), e.depth+1,
		); err != nil {
			return fmt.Errorf("inserting ancestor edge for %q: %w", ins.Path, err)
		}
	}

	return nil
}

// idForPathTx resolves a node's id by path within tx. It returns
// sql.ErrNoRows if no such node exists; callers insert in depth order, so
// a parent is already present when its children are inserted.
func (s *Store) idForPathTx(tx *sql.Tx, p string) (pathid.ID, error) {
	var id int64

	err := tx.QueryRow(`SELECT id FROM nodes WHERE path = ?`, p).Scan(&id)
	if err != nil {
		return 0, err
	}

	return pathid.ID(id), nil
}

// RemoveSubtree deletes the node at path and, by cascading through the
// closure table's descendant set, every path beneath it.
func (s *Store) RemoveSubtree(ctx context.Context, relPath string) error {
	id, err := s.idFor(ctx, relPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil
		}

		return err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT descendant FROM closure WHERE ancestor = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("listing descendants of %q: %w", relPath, err)
	}

	var ids []int64

	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			rows.Close()

			return err
		}

		ids = append(ids, d)
	}

	if err := rows.Err(); err != nil {
		rows.Close()

		return err
	}

	rows.Close()

	if len(ids) == 0 {
		ids = []int64{int64(id)}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))

	for i, d := range ids {
		placeholders[i] = "?"
		args[i] = d
	}

	query := fmt.Sprintf(`DELETE FROM nodes WHERE id IN (%s)`, strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting subtree of %q: %w", relPath, err)
	}

	return tx.Commit()
}

// GCOrphanCollisions deletes collision rows whose path no longer appears
// in the node table (spec §3 Lifecycle).
func (s *Store) GCOrphanCollisions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collisions WHERE path NOT IN (SELECT path FROM nodes)`)
	if err != nil {
		return fmt.Errorf("gc orphan collisions: %w", err)
	}

	return nil
}

func (s *Store) idFor(ctx context.Context, relPath string) (pathid.ID, error) {
	var id int64

	err := s.db.QueryRowContext(ctx, `SELECT id FROM nodes WHERE path = ?`, relPath).Scan(&id)
	if err != nil {
		return 0, err
	}

	return pathid.ID(id), nil
}

// NodeByID returns the node with the given id, or (Node{}, false, nil) if
// absent.
func (s *Store) NodeByID(ctx context.Context, id pathid.ID) (Node, bool, error) {
	var n Node

	var dirInt int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, directory, value FROM nodes WHERE id = ?`, int64(id),
	).Scan((*int64)(&n.ID), &n.Path, &dirInt, &n.Value)

	if err == sql.ErrNoRows {
		return Node{}, false, nil
	}

	if err != nil {
		return Node{}, false, fmt.Errorf("getting node %d: %w", id, err)
	}

	n.Directory = dirInt != 0

	return n, true, nil
}

// Get returns the node at path, or (Node{}, false, nil) if absent.
func (s *Store) Get(ctx context.Context, relPath string) (Node, bool, error) {
	var n Node

	var dirInt int

	err := s.db.QueryRowContext(ctx,
		`SELECT id, path, directory, value FROM nodes WHERE path = ?`, relPath,
	).Scan((*int64)(&n.ID), &n.Path, &dirInt, &n.Value)

	if err == sql.ErrNoRows {
		return Node{}, false, nil
	}

	if err != nil {
		return Node{}, false, fmt.Errorf("getting %q: %w", relPath, err)
	}

	n.Directory = dirInt != 0

	return n, true, nil
}

// SubtreeFilter restricts Subtree's result set.
type SubtreeFilter struct {
	// DirectoryOnly, if set, restricts results to directory=true.
	DirectoryOnly bool
	// FilesOnly, if set, restricts results to directory=false.
	FilesOnly bool
	// MinValue, if non-nil, restricts results to value >= *MinValue.
	MinValue *float64
	// MaxDepth, if non-nil, restricts results to depth <= *MaxDepth from
	// the root (0 = root itself).
	MaxDepth *int
}

// Subtree returns every node under root (root == "" enumerates every
// node in the store, since the implicit root has no node row of its own).
func (s *Store) Subtree(ctx context.Context, root string, filter SubtreeFilter) ([]Node, error) {
	var (
		query string
		args  []any
	)

	base := `SELECT n.id, n.path, n.directory, n.value FROM nodes n`
	where := []string{}

	if root != "" {
		rootID, err := s.idFor(ctx, root)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}

			return nil, err
		}

		base += ` JOIN closure c ON c.descendant = n.id`
		where = append(where, `c.ancestor = ?`)
		args = append(args, int64(rootID))

		if filter.MaxDepth != nil {
			where = append(where, `c.depth <= ?`)
			args = append(args, *filter.MaxDepth)
		}
	}

	if filter.DirectoryOnly {
		where = append(where, `n.directory = 1`)
	}

	if filter.FilesOnly {
		where = append(where, `n.directory = 0`)
	}

	if filter.MinValue != nil {
		where = append(where, `n.value >= ?`)
		args = append(args, *filter.MinValue)
	}

	query = base
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("subtree query: %w", err)
	}
	defer rows.Close()

	var nodes []Node

	for rows.Next() {
		var n Node

		var dirInt int

		if err := rows.Scan((*int64)(&n.ID), &n.Path, &dirInt, &n.Value); err != nil {
			return nil, fmt.Errorf("scanning subtree row: %w", err)
		}

		n.Directory = dirInt != 0
		nodes = append(nodes, n)
	}

	return nodes, rows.Err()
}

// Ancestors returns the closure rows with descendant = pih(path), ordered
// by depth ascending (path itself first, at depth 0).
func (s *Store) Ancestors(ctx context.Context, relPath string) ([]ClosureEdge, error) {
	id, err := s.idFor(ctx, relPath)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ancestor, descendant, depth FROM closure WHERE descendant = ? ORDER BY depth ASC`,
		int64(id),
	)
	if err != nil {
		return nil, fmt.Errorf("ancestors of %q: %w", relPath, err)
	}
	defer rows.Close()

	var edges []ClosureEdge

	for rows.Next() {
		var e ClosureEdge
		if err := rows.Scan((*int64)(&e.Ancestor), (*int64)(&e.Descendant), &e.Depth); err != nil {
			return nil, err
		}

		edges = append(edges, e)
	}

	return edges, rows.Err()
}

// Children returns root itself together with its immediate (depth-1)
// children. For root "" the depth bound does not apply and every node is
// returned.
func (s *Store) Children(ctx context.Context, root string) ([]Node, error) {
	depth := 1

	return s.Subtree(ctx, root, SubtreeFilter{MaxDepth: &depth})
}

// SetValue overwrites the value column for a single node.
func (s *Store) SetValue(ctx context.Context, relPath string, value float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE nodes SET value = ? WHERE path = ?`, value, relPath)
	if err != nil {
		return fmt.Errorf("setting value for %q: %w", relPath, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// IncrementValue adds delta to the value column for a single node.
func (s *Store) IncrementValue(ctx context.Context, relPath string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET value = value + ? WHERE path = ?`, delta, relPath)
	if err != nil {
		return fmt.Errorf("incrementing value for %q: %w", relPath, err)
	}

	return nil
}

// ScaleAllValues multiplies every node's value by factor (used for priority
// decay; no roll-up needed since the operation is linear and uniform).
func (s *Store) ScaleAllValues(ctx context.Context, factor float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE nodes SET value = value * ?`, factor)
	if err != nil {
		return fmt.Errorf("scaling values: %w", err)
	}

	return nil
}

// MaxValue returns the maximum value among nodes matching filter, or
// fallback if the store (restricted by filter) is empty.
func (s *Store) MaxValue(ctx context.Context, filesOnly bool, fallback float64) (float64, error) {
	query := `SELECT MAX(value) FROM nodes`
	if filesOnly {
		query += ` WHERE directory = 0`
	}

	var max sql.NullFloat64

	if err := s.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("max value: %w", err)
	}

	if !max.Valid {
		return fallback, nil
	}

	return max.Float64, nil
}

// RollUpDirectories recomputes the value of every directory node as the
// sum of its immediate children's values, processing paths in strictly
// decreasing depth order so that a directory's children are already
// current by the time it is recomputed (spec §4.3 roll-up contract).
// toRecheck is the set of directory paths (and all their ancestors) that
// may need recomputation; callers collect this by walking Ancestors() of
// every mutated path.
func (s *Store) RollUpDirectories(ctx context.Context, toRecheck []string) error {
	unique := make(map[string]struct{}, len(toRecheck))
	for _, p := range toRecheck {
		unique[p] = struct{}{}
	}

	ordered := make([]string, 0, len(unique))
	for p := range unique {
		ordered = append(ordered, p)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return depthOf(ordered[i]) > depthOf(ordered[j])
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range ordered {
		id, err := s.idForPathTxPublic(tx, p)
		if err != nil {
			if err == sql.ErrNoRows {
				continue
			}

			return err
		}

		var sum sql.NullFloat64

		err = tx.QueryRowContext(ctx,
			`SELECT SUM(n.value) FROM nodes n
			 JOIN closure c ON c.descendant = n.id
			 WHERE c.ancestor = ? AND c.depth = 1`,
			int64(id),
		).Scan(&sum)
		if err != nil {
			return fmt.Errorf("summing children of %q: %w", p, err)
		}

		value := 0.0
		if sum.Valid {
			value = sum.Float64
		}

		if _, err := tx.ExecContext(ctx, `UPDATE nodes SET value = ? WHERE id = ?`, value, int64(id)); err != nil {
			return fmt.Errorf("rolling up %q: %w", p, err)
		}
	}

	return tx.Commit()
}

func (s *Store) idForPathTxPublic(tx *sql.Tx, p string) (pathid.ID, error) {
	return s.idForPathTx(tx, p)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
