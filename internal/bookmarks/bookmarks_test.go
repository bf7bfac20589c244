package bookmarks

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncbridge/core/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	db, err := storage.Open(storage.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, EnsureLocalRoots(context.Background(), db.Write, 1000))
	return db
}

func insertLocalItem(t *testing.T, db *sql.DB, n Node) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO bookmarks_local (id, parent, position, type, title, place_id, keyword, date_added, last_modified, sync_status, sync_change_counter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Parent, n.Position, string(n.Kind), n.Title, n.PlaceID, n.Keyword, n.DateAdded, n.LastModified,
		int(StatusNew), boolToCounter(n.NeedsMerge))
	require.NoError(t, err)
}

func boolToCounter(b bool) int {
	if b {
		return 1
	}
	return 0
}

func insertMirrorItem(t *testing.T, db *sql.DB, n Node) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO bookmarks_mirror (id, parent_id, server_modified, kind, needs_merge, validity, is_deleted, place_id, title, keyword, position, date_added)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Parent, n.ServerModified, string(n.Kind), boolToCounter(n.NeedsMerge), string(ValidityValid), boolToCounter(n.Deleted),
		n.PlaceID, n.Title, n.Keyword, n.Position, n.DateAdded)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO bookmarks_mirror_structure (parent_id, child_id, position) VALUES (?, ?, ?)`,
		n.Parent, n.ID, n.Position)
	require.NoError(t, err)
}

func seedMirrorRoots(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, id := range []string{RootID, MenuID, ToolbarID, UnfiledID, MobileID} {
		_, err := db.Exec(`INSERT INTO bookmarks_mirror (id, kind, validity) VALUES (?, 'folder', 'valid')`, id)
		require.NoError(t, err)
	}
}

func TestBuildLocalTreeFailsWithoutRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	db, err := storage.Open(storage.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = BuildLocalTree(context.Background(), db.Write, 1000)
	require.ErrorIs(t, err, ErrLocalRootsCorrupt)
}

func TestBuildRemoteTreeReparentsOrphan(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedMirrorRoots(t, db.Write)
	insertMirrorItem(t, db.Write, Node{ID: "bookmarkOrph1", Parent: "missingFolder1", Kind: KindBookmark, Title: "t", PlaceID: "http://x"})

	tree, err := BuildRemoteTree(ctx, db.Write, 2000)
	require.NoError(t, err)
	node := tree.Nodes["bookmarkOrph1"]
	require.Equal(t, UnfiledID, node.Parent)
}

// Scenario 3: local unsynced duplicates dedupe onto remote's older ids,
// keeping local content; the unmatched third local item keeps its own id.
func TestScenarioBookmarksNewerLocalWinsDedupe(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedMirrorRoots(t, db.Write)

	insertLocalItem(t, db.Write, Node{ID: "bookmarkAAA1", Parent: MenuID, Position: 0, Kind: KindBookmark, Title: "A", PlaceID: "http://example.com/a", DateAdded: 500, LastModified: 2000, NeedsMerge: true})
	insertLocalItem(t, db.Write, Node{ID: "bookmarkAAA2", Parent: MenuID, Position: 1, Kind: KindBookmark, Title: "A", PlaceID: "http://example.com/a", DateAdded: 500, LastModified: 2000, NeedsMerge: true})
	insertLocalItem(t, db.Write, Node{ID: "bookmarkAAA3", Parent: MenuID, Position: 2, Kind: KindBookmark, Title: "A", PlaceID: "http://example.com/a", DateAdded: 500, LastModified: 2000, NeedsMerge: true})

	insertMirrorItem(t, db.Write, Node{ID: "bookmarkAAA4", Parent: MenuID, Position: 0, Kind: KindBookmark, Title: "A", PlaceID: "http://example.com/a", DateAdded: 100})
	insertMirrorItem(t, db.Write, Node{ID: "bookmarkAAA5", Parent: MenuID, Position: 1, Kind: KindBookmark, Title: "A", PlaceID: "http://example.com/a", DateAdded: 100})

	local, err := BuildLocalTree(ctx, db.Write, 3000)
	require.NoError(t, err)
	remote, err := BuildRemoteTree(ctx, db.Write, 3000)
	require.NoError(t, err)

	plan, err := Merge(local, remote, 3000)
	require.NoError(t, err)

	var changeGUIDs []Op
	var uploads []Op
	for _, op := range plan.Ops {
		switch op.Kind {
		case OpChangeGUID:
			changeGUIDs = append(changeGUIDs, op)
		case OpUploadItem:
			uploads = append(uploads, op)
		}
	}
	require.Len(t, changeGUIDs, 2)

	mapped := make(map[string]string)
	for _, op := range changeGUIDs {
		mapped[op.OldID] = op.ID
	}
	require.Contains(t, []string{"bookmarkAAA4", "bookmarkAAA5"}, mapped["bookmarkAAA1"])
	require.Contains(t, []string{"bookmarkAAA4", "bookmarkAAA5"}, mapped["bookmarkAAA2"])
	require.NotEqual(t, mapped["bookmarkAAA1"], mapped["bookmarkAAA2"])

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		return ApplyPlan(ctx, tx, plan, 3000)
	}))

	var count int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM bookmarks_local WHERE parent = ?`, MenuID).Scan(&count))
	require.Equal(t, 3, count) // AAA4-or-5 x2 (deduped) + AAA3 (pure local)

	var stillExists int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM bookmarks_local WHERE id = 'bookmarkAAA3'`).Scan(&stillExists))
	require.Equal(t, 1, stillExists)
}

// Scenario 4: remote tags for URL B get deduplicated into the canonical
// set; an item whose claimed tags disagree is flagged for re-upload.
func TestScenarioBookmarksTagReconciliation(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedMirrorRoots(t, db.Write)

	_, err := CanonicalTagsForURL(ctx, db.Write, "http://example.com/a", []string{"one", "two"})
	require.NoError(t, err)
	_, err = CanonicalTagsForURL(ctx, db.Write, "http://example.com/b", []string{"two", "three", "four"})
	require.NoError(t, err)

	insertMirrorItem(t, db.Write, Node{ID: "bookmarkB0000", Parent: MenuID, Kind: KindBookmark, Title: "B", PlaceID: "http://example.com/b"})
	for _, tag := range []string{"two", "three", "eight", "eight"} {
		_, err := db.Write.Exec(`INSERT OR IGNORE INTO bookmark_item_tags (item_id, tag) VALUES (?, ?)`, "bookmarkB0000", tag)
		require.NoError(t, err)
	}
	_, err = CanonicalTagsForURL(ctx, db.Write, "http://example.com/b", []string{"two", "three", "eight"})
	require.NoError(t, err)

	require.NoError(t, RunStructuralValidityPrePass(ctx, db.Write))

	tagsA, err := tagsForURL(ctx, db.Write, "http://example.com/a")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"one", "two"}, tagsA)

	tagsB, err := tagsForURL(ctx, db.Write, "http://example.com/b")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"two", "three", "four", "eight"}, tagsB)

	var validity string
	require.NoError(t, db.Write.QueryRow(`SELECT validity FROM bookmarks_mirror WHERE id = 'bookmarkB0000'`).Scan(&validity))
	require.Equal(t, string(ValidityReupload), validity)
}

func TestWipeTombstonesNonRootItems(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	insertLocalItem(t, db.Write, Node{ID: "bookmarkX", Parent: MenuID, Kind: KindBookmark, Title: "x", PlaceID: "http://x"})

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		return Wipe(ctx, tx, 5000)
	}))

	var count int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM bookmarks_local WHERE id = 'bookmarkX'`).Scan(&count))
	require.Zero(t, count)
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM bookmarks_local_tombstones WHERE id = 'bookmarkX'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestResetClearsMirrorAndMarksLocalNew(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	insertLocalItem(t, db.Write, Node{ID: "bookmarkY", Parent: MenuID, Kind: KindBookmark, Title: "y", PlaceID: "http://y"})
	seedMirrorRoots(t, db.Write)

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		return Reset(ctx, tx)
	}))

	var mirrorCount int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM bookmarks_mirror`).Scan(&mirrorCount))
	require.Zero(t, mirrorCount)

	var status, counter int
	require.NoError(t, db.Write.QueryRow(`SELECT sync_status, sync_change_counter FROM bookmarks_local WHERE id = 'bookmarkY'`).Scan(&status, &counter))
	require.Equal(t, int(StatusNew), status)
	require.Equal(t, 1, counter)
}
