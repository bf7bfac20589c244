package bookmarks

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/payload"
)

// StageOutgoing turns a completion plan's upload_items ops plus the
// local tombstones table into wire payloads: structureToUpload (a
// folder's ordered children) and tagsToUpload (per-URL tag set) are
// inflated inline rather than through separate temp tables, since the
// plan already holds everything in memory by the time outgoing staging
// runs (spec.md §4.2's "outgoing inflation").
func StageOutgoing(ctx context.Context, q Queryer, plan *Plan) ([]payload.Payload, error) {
	items, _ := CollectUploads(plan)

	var out []payload.Payload
	for id, item := range items {
		if item.Kind == KindLivemark {
			continue // never uploaded, per spec.md §4.2
		}
		rec := payload.BookmarkRecord{
			ID:        id,
			Type:      string(item.Kind),
			ParentID:  item.Parent,
			DateAdded: item.DateAdded,
			Title:     item.Title,
		}
		if item.Kind == KindBookmark || item.Kind == KindQuery {
			rec.BmkURI = item.PlaceID
			tags, err := tagsForURL(ctx, q, item.PlaceID)
			if err != nil {
				return nil, err
			}
			rec.Tags = tags
		}
		if item.Kind == KindFolder {
			children, err := childOrder(ctx, q, id)
			if err != nil {
				return nil, err
			}
			rec.Children = children
		}
		p, err := payload.Encode(id, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	tombstoneIDs, err := pendingTombstones(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, id := range tombstoneIDs {
		out = append(out, payload.Tombstone(id))
	}
	return out, nil
}

func childOrder(ctx context.Context, q Queryer, parent string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM bookmarks_local WHERE parent = ? ORDER BY position`, parent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func pendingTombstones(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM bookmarks_local_tombstones`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PromoteAfterUpload implements spec.md §4.2's post-upload step: for
// each confirmed id, decrement sync-change-counter (clamped at 0, so a
// concurrent local edit mid-sync keeps its pending change), and delete
// any local tombstone now that the server has the deletion.
func PromoteAfterUpload(ctx context.Context, tx *sql.Tx, confirmed []string) error {
	for _, id := range confirmed {
		if _, err := tx.ExecContext(ctx, `
			UPDATE bookmarks_local SET sync_change_counter = MAX(sync_change_counter - 1, 0) WHERE id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bookmarks_local_tombstones WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

// Wipe implements the user-triggered wipe: every syncable non-root item
// becomes a tombstone and is deleted locally; the mirror is left intact
// so the next sync re-downloads everything as incoming creates.
func Wipe(ctx context.Context, tx *sql.Tx, now int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM bookmarks_local WHERE id NOT IN (?, ?, ?, ?, ?)`,
		RootID, UnfiledID, MenuID, ToolbarID, MobileID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO bookmarks_local_tombstones (id, date_removed) VALUES (?, ?)`, id, now); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM bookmarks_local WHERE id NOT IN (?, ?, ?, ?, ?)`,
		RootID, UnfiledID, MenuID, ToolbarID, MobileID)
	return err
}

// Reset implements sign-out / sync-id-change: clear the mirror and its
// structure, clear local tombstones, and mark every local item New with
// a pending change so the next sync re-uploads everything from scratch.
func Reset(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DELETE FROM bookmarks_mirror`,
		`DELETE FROM bookmarks_mirror_structure`,
		`DELETE FROM bookmarks_local_tombstones`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `UPDATE bookmarks_local SET sync_status = ?, sync_change_counter = 1 WHERE id NOT IN (?, ?, ?, ?, ?)`,
		int(StatusNew), RootID, UnfiledID, MenuID, ToolbarID, MobileID)
	return err
}
