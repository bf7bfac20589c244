package history

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/storage"
)

// Visit type constants, matching the small integer vocabulary spec.md §4.3
// and the wire format's "transition" field use interchangeably.
const (
	VisitTypeLink         = 1
	VisitTypeTyped        = 2
	VisitTypeBookmark     = 3
	VisitTypeRedirectPerm = 5
	VisitTypeRedirectTemp = 6
	VisitTypeDownload     = 7
	VisitTypeFramedLink   = 8
)

// visitWeight scores a visit by how deliberately the user reached the
// page: typed URLs and bookmark-origin visits count for more than a
// followed link, redirects and framed content count for very little.
func visitWeight(visitType int) int64 {
	switch visitType {
	case VisitTypeTyped:
		return 2000
	case VisitTypeBookmark:
		return 150
	case VisitTypeDownload:
		return 0
	case VisitTypeRedirectPerm, VisitTypeRedirectTemp:
		return 25
	case VisitTypeFramedLink:
		return 0
	default: // link
		return 100
	}
}

// ageDecay scales a visit's weight down as it recedes into the past,
// in five buckets (up to 4, 14, 31 and 90 days, then older), mirroring the bucket-decay
// shape every frecency implementation in this lineage uses instead of a
// continuous falloff (cheap to compute, stable across recalculation
// runs).
func ageDecay(ageMillis int64) int64 {
	const day = int64(24 * 60 * 60 * 1000)
	switch {
	case ageMillis <= 4*day:
		return 100
	case ageMillis <= 14*day:
		return 70
	case ageMillis <= 31*day:
		return 50
	case ageMillis <= 90*day:
		return 30
	default:
		return 10
	}
}

// ComputeFrecency recomputes the frecency score for placeID from its
// visit history, per spec.md §4.3. A place with no visits scores
// UnvisitedBookmarkFrecency if it is bookmarked (foreign_count > 0),
// zero otherwise. Hidden places always score zero so they never surface
// in frecency-ordered results.
func ComputeFrecency(ctx context.Context, q Queryer, placeID string, now int64) (int64, error) {
	place, err := getPlaceByID(ctx, q, placeID)
	if err != nil || place == nil {
		return 0, err
	}
	if place.Hidden {
		return 0, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT visit_date, visit_type FROM history_visits
		WHERE place_id = ? ORDER BY visit_date DESC LIMIT 10`, placeID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var total int64
	var count int
	for rows.Next() {
		var date int64
		var vtype int
		if err := rows.Scan(&date, &vtype); err != nil {
			return 0, err
		}
		age := now - date
		if age < 0 {
			age = 0
		}
		total += visitWeight(vtype) * ageDecay(age) / 100
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if count == 0 {
		if place.ForeignCount > 0 {
			return UnvisitedBookmarkFrecency, nil
		}
		return 0, nil
	}
	return total / int64(count), nil
}

// MarkFrecencyStale enqueues placeID for out-of-band frecency
// recomputation, so a visit-heavy incoming batch does not pay the cost
// of recalculating on every single insert.
func MarkFrecencyStale(ctx context.Context, q Queryer, placeID string) error {
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO history_stale_frecencies (place_id) VALUES (?)`, placeID)
	return err
}

// RecomputeStaleFrecencies drains history_stale_frecencies in bounded
// chunks (storage.FrecencyChunkSize per chunk), each chunk in its own
// transaction, checking scope between chunks so recomputation never
// holds the write lock for the whole backlog at once, per spec.md
// §4.2/§5.
func RecomputeStaleFrecencies(ctx context.Context, db *sql.DB, scope *storage.InterruptScope, now int64) error {
	for {
		if err := scope.ErrIfInterrupted(); err != nil {
			return err
		}
		drained, err := recomputeChunk(ctx, db, now)
		if err != nil {
			return err
		}
		if drained == 0 {
			return nil
		}
	}
}

func recomputeChunk(ctx context.Context, db *sql.DB, now int64) (int, error) {
	var drained int
	err := storage.WithTx(ctx, db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT place_id FROM history_stale_frecencies LIMIT ?`, storage.FrecencyChunkSize)
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
			score, err := ComputeFrecency(ctx, tx, id, now)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE history_places SET frecency = ? WHERE id = ?`, score, id); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM history_stale_frecencies WHERE place_id = ?`, id); err != nil {
				return err
			}
		}
		drained = len(ids)
		return nil
	})
	return drained, err
}
