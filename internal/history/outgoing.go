package history

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/payload"
)

// StagedPlace pairs an outgoing place with the change-counter value it
// was staged at, so PromoteAfterUpload can decrement by exactly that
// delta even if a concurrent local mutation bumped the counter further
// during the round trip (spec.md §4.3/§5).
type StagedPlace struct {
	ID            string
	StagedCounter int64
}

// StageOutgoing selects up to maxPlaces tombstones (oldest-removed
// first) and up to maxPlaces non-hidden, non-Normal-status places
// ordered by frecency DESC, each with up to maxVisits most recent
// visits, per spec.md §4.3. It returns the wire payloads, the
// staged-counter ledger, and the tombstoned URLs — both needed by
// PromoteAfterUpload to know exactly what was staged.
func StageOutgoing(ctx context.Context, q Queryer, maxPlaces, maxVisits int) ([]payload.Payload, []StagedPlace, []string, error) {
	var out []payload.Payload

	tombRows, err := q.QueryContext(ctx, `SELECT url FROM history_place_tombstones ORDER BY date_removed LIMIT ?`, maxPlaces)
	if err != nil {
		return nil, nil, nil, err
	}
	var tombURLs []string
	for tombRows.Next() {
		var u string
		if err := tombRows.Scan(&u); err != nil {
			tombRows.Close()
			return nil, nil, nil, err
		}
		tombURLs = append(tombURLs, u)
	}
	if err := tombRows.Err(); err != nil {
		tombRows.Close()
		return nil, nil, nil, err
	}
	tombRows.Close()
	for _, u := range tombURLs {
		out = append(out, payload.Tombstone(u))
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, url, title FROM history_places
		WHERE hidden = 0 AND sync_status != ? AND (visit_count_local > 0 OR visit_count_remote > 0)
		ORDER BY frecency DESC LIMIT ?`, int(StatusNormal), maxPlaces)
	if err != nil {
		return nil, nil, nil, err
	}
	defer rows.Close()

	var staged []StagedPlace
	for rows.Next() {
		var id, url, title string
		if err := rows.Scan(&id, &url, &title); err != nil {
			return nil, nil, nil, err
		}
		visits, counter, err := placeOutgoingVisitsAndCounter(ctx, q, id, maxVisits)
		if err != nil {
			return nil, nil, nil, err
		}
		rec := payload.HistoryRecord{ID: id, HistURI: url, Title: title, Visits: visits}
		p, err := payload.Encode(id, rec)
		if err != nil {
			return nil, nil, nil, err
		}
		out = append(out, p)
		staged = append(staged, StagedPlace{ID: id, StagedCounter: counter})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}
	return out, staged, tombURLs, nil
}

func placeOutgoingVisitsAndCounter(ctx context.Context, q Queryer, placeID string, maxVisits int) ([]payload.HistoryVisit, int64, error) {
	var counter int64
	if err := q.QueryRowContext(ctx, `SELECT sync_change_counter FROM history_places WHERE id = ?`, placeID).Scan(&counter); err != nil {
		return nil, 0, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT visit_date, visit_type FROM history_visits
		WHERE place_id = ? ORDER BY visit_date DESC LIMIT ?`, placeID, maxVisits)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var visits []payload.HistoryVisit
	for rows.Next() {
		var date int64
		var vtype int
		if err := rows.Scan(&date, &vtype); err != nil {
			return nil, 0, err
		}
		visits = append(visits, payload.HistoryVisit{Date: date, Transition: vtype})
	}
	return visits, counter, rows.Err()
}

// PromoteAfterUpload applies spec.md §4.3's post-upload step: every
// confirmed staged place has its change-counter decremented by exactly
// the value it was staged at (preserving any concurrent local bump made
// during the round trip). Every staged place — confirmed or not — gets
// status = Normal (per spec.md: "status = Normal on every row not in the
// temp table as well", i.e. the whole staged set), since the server has
// now seen the sync regardless of per-item confirmation. Tombstones for
// confirmed URLs are cleared.
func PromoteAfterUpload(ctx context.Context, tx *sql.Tx, staged []StagedPlace, tombstoned []string, confirmed map[string]bool) error {
	for _, s := range staged {
		if confirmed[s.ID] {
			if _, err := tx.ExecContext(ctx, `
				UPDATE history_places SET sync_change_counter = MAX(sync_change_counter - ?, 0), sync_status = ?
				WHERE id = ?`, s.StagedCounter, int(StatusNormal), s.ID); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE history_places SET sync_status = ? WHERE id = ?`, int(StatusNormal), s.ID); err != nil {
			return err
		}
	}
	for _, url := range tombstoned {
		if !confirmed[url] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM history_place_tombstones WHERE url = ?`, url); err != nil {
			return err
		}
	}
	return nil
}
