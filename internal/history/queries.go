package history

import (
	"context"
	"database/sql"
	"net/url"
	"strings"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx, the same pattern
// internal/logins and internal/bookmarks use so every helper works
// equally inside and outside a transaction.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const placeCols = `id, url, host, title, hidden, typed, frecency, visit_count_local, visit_count_remote, last_visit_local, last_visit_remote, foreign_count, sync_status, sync_change_counter`

func scanPlace(row interface{ Scan(...interface{}) error }) (Place, error) {
	var p Place
	var hidden, typed, status int
	err := row.Scan(&p.ID, &p.URL, &p.Host, &p.Title, &hidden, &typed, &p.Frecency,
		&p.VisitCountLocal, &p.VisitCountRemote, &p.LastVisitLocal, &p.LastVisitRemote,
		&p.ForeignCount, &status, &p.SyncChangeCounter)
	if err != nil {
		return Place{}, err
	}
	p.Hidden = hidden != 0
	p.Typed = typed != 0
	p.SyncStatus = SyncStatus(status)
	return p, nil
}

func getPlaceByID(ctx context.Context, q Queryer, id string) (*Place, error) {
	row := q.QueryRowContext(ctx, `SELECT `+placeCols+` FROM history_places WHERE id = ?`, id)
	p, err := scanPlace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func getPlaceByURL(ctx context.Context, q Queryer, rawURL string) (*Place, error) {
	row := q.QueryRowContext(ctx, `SELECT `+placeCols+` FROM history_places WHERE url = ?`, rawURL)
	p, err := scanPlace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func insertPlace(ctx context.Context, q Queryer, p Place) error {
	if err := ensureOrigin(ctx, q, p.Host); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO history_places (`+placeCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.URL, p.Host, p.Title, boolInt(p.Hidden), boolInt(p.Typed), p.Frecency,
		p.VisitCountLocal, p.VisitCountRemote, p.LastVisitLocal, p.LastVisitRemote,
		p.ForeignCount, int(p.SyncStatus), p.SyncChangeCounter)
	return err
}

func updatePlace(ctx context.Context, q Queryer, p Place) error {
	_, err := q.ExecContext(ctx, `
		UPDATE history_places SET
			title = ?, hidden = ?, typed = ?, frecency = ?,
			visit_count_local = ?, visit_count_remote = ?,
			last_visit_local = ?, last_visit_remote = ?,
			foreign_count = ?, sync_status = ?, sync_change_counter = ?
		WHERE id = ?`,
		p.Title, boolInt(p.Hidden), boolInt(p.Typed), p.Frecency,
		p.VisitCountLocal, p.VisitCountRemote, p.LastVisitLocal, p.LastVisitRemote,
		p.ForeignCount, int(p.SyncStatus), p.SyncChangeCounter, p.ID)
	return err
}

// renamePlaceID is used only when an incoming record's identifier wins
// over a local New-status place's own (spec.md §4.3 identifier
// reconciliation). Visits and tombstones carry the old place-id and must
// move with it.
func renamePlaceID(ctx context.Context, q Queryer, oldID, newID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE history_places SET id = ? WHERE id = ?`, newID, oldID); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `UPDATE history_visits SET place_id = ? WHERE place_id = ?`, newID, oldID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `UPDATE history_visit_tombstones SET place_id = ? WHERE place_id = ?`, newID, oldID)
	return err
}

func ensureOrigin(ctx context.Context, q Queryer, host string) error {
	if host == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO history_origins (host) VALUES (?)`, host)
	return err
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// visitExists reports whether place-id/visit-date already has a visit row
// or a tombstone (either blocks a re-insert, per spec.md §4.3: "uniquely
// keyed by (place-id, visit-date)... tombstone row to prevent
// resurrection").
func visitExists(ctx context.Context, q Queryer, placeID string, date int64) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM history_visits WHERE place_id = ? AND visit_date = ?)
		     + (SELECT COUNT(*) FROM history_visit_tombstones WHERE place_id = ? AND visit_date = ?)`,
		placeID, date, placeID, date).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertVisit(ctx context.Context, q Queryer, v Visit) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO history_visits (place_id, visit_date, visit_type, is_local, from_visit)
		VALUES (?, ?, ?, ?, ?)`, v.PlaceID, v.VisitDate, v.VisitType, boolInt(v.IsLocal), v.FromVisit)
	return err
}

func maxVisitDate(ctx context.Context, q Queryer) (int64, error) {
	var max sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(visit_date) FROM history_visits`).Scan(&max); err != nil {
		return 0, err
	}
	return max.Int64, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
