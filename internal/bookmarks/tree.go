package bookmarks

import (
	"context"
	"database/sql"
	"sort"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Node is one arena entry: a tree node keyed by id, not by pointer, per
// spec.md §9's "avoid pointer graphs" design note.
type Node struct {
	ID             string
	Parent         string
	Position       int
	Kind           Kind
	Title          string
	PlaceID        string
	Keyword        string
	DateAdded      int64
	LastModified   int64 // local only
	ServerModified int64 // remote only
	Age            int64
	NeedsMerge     bool
	Deleted        bool
	Validity       Validity
	OrigIdentity   string // not set by Merge, which never assigns replacement ids
}

// Tree is the arena+index structure: nodes keyed by id, structure held
// separately in an ordered parent->children map.
type Tree struct {
	Nodes    map[string]*Node
	Children map[string][]string
	IsRemote bool
}

func newTree(remote bool) *Tree {
	return &Tree{Nodes: make(map[string]*Node), Children: make(map[string][]string), IsRemote: remote}
}

func (t *Tree) addChild(parent, child string) {
	t.Children[parent] = append(t.Children[parent], child)
}

// sortChildren orders each parent's children list by stored position,
// matching the (parent, position) index both tables carry.
func (t *Tree) sortChildren() {
	for parent, kids := range t.Children {
		ids := kids
		sort.SliceStable(ids, func(i, j int) bool {
			return t.Nodes[ids[i]].Position < t.Nodes[ids[j]].Position
		})
		t.Children[parent] = ids
	}
}

// BuildLocalTree constructs the authoritative local tree: nodes ordered
// by (parent, position), tombstones attached, orphan-free by
// construction (parent pointers that go nowhere are a corruption, not an
// implicit reparent, since the local table is self-consistent by
// construction of the CRUD layer).
func BuildLocalTree(ctx context.Context, q Queryer, now int64) (*Tree, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, parent, position, type, title, place_id, keyword,
			date_added, last_modified, sync_status, sync_change_counter
		FROM bookmarks_local ORDER BY parent, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := newTree(false)
	sawRoot := false
	for rows.Next() {
		var n Node
		var kind string
		var syncStatus, changeCounter int
		if err := rows.Scan(&n.ID, &n.Parent, &n.Position, &kind, &n.Title, &n.PlaceID, &n.Keyword,
			&n.DateAdded, &n.LastModified, &syncStatus, &changeCounter); err != nil {
			return nil, err
		}
		n.Kind = Kind(kind)
		n.Age = now - n.LastModified
		n.NeedsMerge = changeCounter > 0
		if n.ID == RootID {
			sawRoot = true
		}
		t.Nodes[n.ID] = &n
		if n.Parent != "" {
			t.addChild(n.Parent, n.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !sawRoot {
		return nil, ErrLocalRootsCorrupt
	}

	tombRows, err := q.QueryContext(ctx, `SELECT id FROM bookmarks_local_tombstones`)
	if err != nil {
		return nil, err
	}
	defer tombRows.Close()
	for tombRows.Next() {
		var id string
		if err := tombRows.Scan(&id); err != nil {
			return nil, err
		}
		if existing, ok := t.Nodes[id]; ok {
			existing.Deleted = true
		} else {
			t.Nodes[id] = &Node{ID: id, Deleted: true}
		}
	}
	if err := tombRows.Err(); err != nil {
		return nil, err
	}

	t.sortChildren()
	return t, nil
}

// BuildRemoteTree constructs the remote tree from the mirror and its
// normalized structure table. Orphans — items whose parent points at
// nothing in the mirror — are reparented to "unfiled" per spec.md §4.2.
func BuildRemoteTree(ctx context.Context, q Queryer, now int64) (*Tree, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, parent_id, server_modified, kind, needs_merge, validity,
			is_deleted, place_id, title, keyword, position, date_added
		FROM bookmarks_mirror`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	t := newTree(true)
	sawRoot := false
	for rows.Next() {
		var n Node
		var kind, validity string
		var needsMerge, isDeleted int
		if err := rows.Scan(&n.ID, &n.Parent, &n.ServerModified, &kind, &needsMerge, &validity,
			&isDeleted, &n.PlaceID, &n.Title, &n.Keyword, &n.Position, &n.DateAdded); err != nil {
			return nil, err
		}
		n.Kind = Kind(kind)
		n.Validity = Validity(validity)
		n.NeedsMerge = needsMerge != 0
		n.Deleted = isDeleted != 0
		n.Age = now - n.DateAdded
		if n.ID == RootID {
			sawRoot = true
		}
		t.Nodes[n.ID] = &n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !sawRoot {
		return nil, ErrSyncedRootsCorrupt
	}

	structRows, err := q.QueryContext(ctx, `
		SELECT parent_id, child_id, position FROM bookmarks_mirror_structure ORDER BY parent_id, position`)
	if err != nil {
		return nil, err
	}
	defer structRows.Close()
	for structRows.Next() {
		var parentID, childID string
		var position int
		if err := structRows.Scan(&parentID, &childID, &position); err != nil {
			return nil, err
		}
		child, ok := t.Nodes[childID]
		if !ok {
			continue
		}
		if _, parentExists := t.Nodes[parentID]; !parentExists {
			parentID = UnfiledID
		}
		child.Parent = parentID
		child.Position = position
		t.addChild(parentID, childID)
	}
	if err := structRows.Err(); err != nil {
		return nil, err
	}

	t.sortChildren()
	return t, nil
}
