package bookmarks

import "context"

// EnsureLocalRoots inserts the five synthetic root folders into the
// local tree if they are not already present. A fresh store has no
// bookmarks until the embedding application creates its first one or a
// sync brings the server's roots down, but the local tree always needs
// its own root rows to exist so BuildLocalTree never sees a corrupt
// tree (spec.md §4.2: "if the local root row is missing, fail").
func EnsureLocalRoots(ctx context.Context, q Queryer, now int64) error {
	roots := []struct {
		id, parent, title string
	}{
		{RootID, "", "root"},
		{MenuID, RootID, "menu"},
		{ToolbarID, RootID, "toolbar"},
		{UnfiledID, RootID, "unfiled"},
		{MobileID, RootID, "mobile"},
	}
	for i, r := range roots {
		if _, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO bookmarks_local (id, parent, position, type, title, date_added, last_modified, sync_status, sync_change_counter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			r.id, r.parent, i, string(KindFolder), r.title, now, now, int(StatusNormal)); err != nil {
			return err
		}
	}
	return nil
}
