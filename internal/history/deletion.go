package history

import (
	"context"
	"database/sql"
)

// DeleteByRange removes every visit with start <= visit_date < end,
// tombstones each, and for any place left with no foreign references and
// no visits on either side, tombstones and removes the place itself;
// otherwise just recomputes its frecency, per spec.md §4.3.
func DeleteByRange(ctx context.Context, tx *sql.Tx, start, end, now int64) error {
	rows, err := tx.QueryContext(ctx, `SELECT place_id, visit_date FROM history_visits WHERE visit_date >= ? AND visit_date < ?`, start, end)
	if err != nil {
		return err
	}
	type key struct {
		placeID string
		date    int64
	}
	var affected []key
	placeSet := map[string]bool{}
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.placeID, &k.date); err != nil {
			rows.Close()
			return err
		}
		affected = append(affected, k)
		placeSet[k.placeID] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, k := range affected {
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_visits WHERE place_id = ? AND visit_date = ?`, k.placeID, k.date); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO history_visit_tombstones (place_id, visit_date) VALUES (?, ?)`, k.placeID, k.date); err != nil {
			return err
		}
	}

	for placeID := range placeSet {
		if err := recomputeLastVisitFields(ctx, tx, placeID); err != nil {
			return err
		}
		place, err := getPlaceByID(ctx, tx, placeID)
		if err != nil || place == nil {
			if err != nil {
				return err
			}
			continue
		}
		if place.ForeignCount == 0 && place.LastVisitLocal == 0 && place.LastVisitRemote == 0 {
			if err := tombstonePlace(ctx, tx, *place, now); err != nil {
				return err
			}
			continue
		}
		score, err := ComputeFrecency(ctx, tx, placeID, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE history_places SET frecency = ? WHERE id = ?`, score, placeID); err != nil {
			return err
		}
	}
	return nil
}

// recomputeLastVisitFields refreshes history_places.last_visit_local/
// last_visit_remote from what remains in history_visits, since deleting
// visit rows directly would otherwise leave the denormalized fields
// stale and mask a place that should now qualify for removal.
func recomputeLastVisitFields(ctx context.Context, tx *sql.Tx, placeID string) error {
	var local, remote sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(visit_date) FROM history_visits WHERE place_id = ? AND is_local = 1`, placeID).Scan(&local); err != nil {
		return err
	}
	if err := tx.QueryRowContext(ctx, `SELECT MAX(visit_date) FROM history_visits WHERE place_id = ? AND is_local = 0`, placeID).Scan(&remote); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `UPDATE history_places SET last_visit_local = ?, last_visit_remote = ? WHERE id = ?`,
		local.Int64, remote.Int64, placeID)
	return err
}

func tombstonePlace(ctx context.Context, tx *sql.Tx, p Place, now int64) error {
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO history_place_tombstones (url, date_removed) VALUES (?, ?)`, p.URL, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM history_places WHERE id = ?`, p.ID)
	return err
}

// WipeLocal implements spec.md §4.3's wipe-local: delete every place with
// no foreign references, every visit, every visit tombstone, and every
// origin no place still references; surviving bookmarked places (still
// referenced, now with no visits) have their frecency reset to the
// unvisited-bookmark bonus.
func WipeLocal(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_visits`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_visit_tombstones`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_places WHERE foreign_count = 0`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE history_places SET frecency = ?, visit_count_local = 0, visit_count_remote = 0,
			last_visit_local = 0, last_visit_remote = 0
		WHERE foreign_count > 0`, UnvisitedBookmarkFrecency); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		DELETE FROM history_origins WHERE host NOT IN (SELECT DISTINCT host FROM history_places WHERE host != '')`)
	return err
}

// DeleteEverything implements spec.md §4.3's delete-everything: advance
// the deletion high-water mark past every visit this client has ever
// seen (so a stale incoming batch from before the wipe never resurrects
// anything), wipe local state, and report that last-sync and the
// sync-association ids must be reset by the caller via storage.MetaStore
// (outside this package's scope, since MetaStore runs over GORM on the
// same single-writer connection and cannot be called from inside this
// *sql.Tx without deadlocking the connection pool).
func DeleteEverything(ctx context.Context, tx *sql.Tx, priorHWM, now int64) (int64, error) {
	mirrorMax, err := maxVisitDate(ctx, tx)
	if err != nil {
		return priorHWM, err
	}
	hwm := priorHWM
	if mirrorMax > hwm {
		hwm = mirrorMax
	}
	if now > hwm {
		hwm = now
	}
	if err := WipeLocal(ctx, tx); err != nil {
		return hwm, err
	}
	return hwm, nil
}
