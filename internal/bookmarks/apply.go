package bookmarks

import (
	"context"
	"database/sql"
)

// ApplyPlan executes a completion plan in one transaction: local
// structure writes, tombstone adjustments, and merge-state bookkeeping.
// Callers run this inside storage.WithTx alongside incoming staging so
// an interrupt rolls the whole sync back (spec.md §4.2 step list,
// §8 "interrupt during plan execution").
func ApplyPlan(ctx context.Context, tx *sql.Tx, plan *Plan, now int64) error {
	for _, op := range plan.Ops {
		var err error
		switch op.Kind {
		case OpChangeGUID:
			err = changeGUID(ctx, tx, op.OldID, op.ID)
		case OpApplyRemoteItem:
			err = applyRemoteItem(ctx, tx, op.Item, now)
		case OpApplyNewLocalStructure:
			err = applyStructure(ctx, tx, op.ID, op.ChildOrder)
		case OpDeleteLocalTombstone:
			_, err = tx.ExecContext(ctx, `DELETE FROM bookmarks_local_tombstones WHERE id = ?`, op.ID)
		case OpInsertLocalTombstone:
			_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO bookmarks_local_tombstones (id, date_removed) VALUES (?, ?)`, op.ID, now)
		case OpDeleteLocalItem:
			_, err = tx.ExecContext(ctx, `DELETE FROM bookmarks_local WHERE id = ?`, op.ID)
		case OpSetLocalMerged:
			_, err = tx.ExecContext(ctx, `UPDATE bookmarks_local SET sync_status = ?, sync_change_counter = 0 WHERE id = ?`,
				int(StatusNormal), op.ID)
		case OpSetLocalUnmerged:
			_, err = tx.ExecContext(ctx, `UPDATE bookmarks_local SET sync_status = ?, sync_change_counter = 1 WHERE id = ?`,
				int(StatusNormal), op.ID)
		case OpSetRemoteMerged:
			_, err = tx.ExecContext(ctx, `UPDATE bookmarks_mirror SET needs_merge = 0 WHERE id = ?`, op.ID)
		case OpUploadItem, OpUploadTombstone:
			// Collected by CollectUploads directly from the plan; no
			// local-table write is needed here.
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func changeGUID(ctx context.Context, tx *sql.Tx, oldID, newID string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE bookmarks_local SET parent = ? WHERE parent = ?`, newID, oldID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE bookmarks_local SET id = ? WHERE id = ?`, newID, oldID)
	return err
}

func applyRemoteItem(ctx context.Context, tx *sql.Tx, item *MergedItem, now int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bookmarks_local (id, parent, position, type, title, place_id, keyword, date_added, last_modified, sync_status, sync_change_counter)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			parent = excluded.parent, position = excluded.position, type = excluded.type,
			title = excluded.title, place_id = excluded.place_id, keyword = excluded.keyword,
			date_added = excluded.date_added, last_modified = excluded.last_modified,
			sync_status = excluded.sync_status, sync_change_counter = excluded.sync_change_counter`,
		item.ID, item.Parent, item.Position, string(item.Kind), item.Title, item.PlaceID, item.Keyword,
		item.DateAdded, now, int(StatusNormal))
	return err
}

func applyStructure(ctx context.Context, tx *sql.Tx, parent string, order []string) error {
	for pos, childID := range order {
		if _, err := tx.ExecContext(ctx, `UPDATE bookmarks_local SET parent = ?, position = ? WHERE id = ?`,
			parent, pos, childID); err != nil {
			return err
		}
	}
	return nil
}

// CollectUploads extracts the plan's upload_items ops for the outgoing
// inflation step, keyed by id so a later op for the same id (e.g. a
// weak reupload superseded by a real content change) keeps only the
// last write.
func CollectUploads(plan *Plan) (items map[string]*MergedItem, weak map[string]bool) {
	items = make(map[string]*MergedItem)
	weak = make(map[string]bool)
	for _, op := range plan.Ops {
		if op.Kind != OpUploadItem || op.Item == nil {
			continue
		}
		items[op.ID] = op.Item
		weak[op.ID] = op.Weak
	}
	return items, weak
}
