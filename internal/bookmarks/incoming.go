package bookmarks

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/payload"
)

// StageIncoming upserts every incoming record into the mirror with
// needs_merge = 1 (tombstones set is_deleted = 1), normalizes folder
// child lists into bookmarks_mirror_structure, and folds each bookmark's
// claimed tags into both bookmark_item_tags (the per-item claim) and
// bookmarks_tags (the canonical per-URL set), per spec.md §4.2.
func StageIncoming(ctx context.Context, tx *sql.Tx, records []payload.Payload, now int64) error {
	for _, p := range records {
		if p.Deleted {
			if err := stageTombstone(ctx, tx, p.ID); err != nil {
				return err
			}
			continue
		}
		var rec payload.BookmarkRecord
		if err := payload.Decode(p, &rec); err != nil {
			continue // malformed single record: dropped silently, sync proceeds (spec.md §8)
		}
		if err := stageRecord(ctx, tx, rec, now); err != nil {
			return err
		}
	}
	return nil
}

func stageTombstone(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bookmarks_mirror (id, is_deleted, needs_merge, kind, validity)
		VALUES (?, 1, 1, 'bookmark', 'valid')
		ON CONFLICT(id) DO UPDATE SET is_deleted = 1, needs_merge = 1`, id)
	return err
}

func stageRecord(ctx context.Context, tx *sql.Tx, rec payload.BookmarkRecord, now int64) error {
	dateAdded := rec.DateAdded
	if dateAdded == 0 {
		dateAdded = now
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bookmarks_mirror (id, parent_id, server_modified, kind, needs_merge, validity, is_deleted, place_id, title, keyword, position, date_added)
		VALUES (?, ?, ?, ?, 1, 'valid', 0, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id, server_modified = excluded.server_modified,
			kind = excluded.kind, needs_merge = 1, is_deleted = 0, place_id = excluded.place_id,
			title = excluded.title, keyword = excluded.keyword, date_added = excluded.date_added`,
		rec.ID, rec.ParentID, now, rec.Type, rec.BmkURI, rec.Title, rec.Keyword, dateAdded)
	if err != nil {
		return err
	}

	if rec.Type == string(KindFolder) && len(rec.Children) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM bookmarks_mirror_structure WHERE parent_id = ?`, rec.ID); err != nil {
			return err
		}
		for pos, childID := range rec.Children {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO bookmarks_mirror_structure (parent_id, child_id, position) VALUES (?, ?, ?)
				ON CONFLICT(parent_id, child_id) DO UPDATE SET position = excluded.position`,
				rec.ID, childID, pos); err != nil {
				return err
			}
		}
	}

	if len(rec.Tags) > 0 && rec.BmkURI != "" {
		for _, tag := range rec.Tags {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO bookmark_item_tags (item_id, tag) VALUES (?, ?)`, rec.ID, tag); err != nil {
				return err
			}
		}
		if _, err := CanonicalTagsForURL(ctx, tx, rec.BmkURI, rec.Tags); err != nil {
			return err
		}
	}
	return nil
}
