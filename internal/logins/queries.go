package logins

import (
	"context"
	"database/sql"
	"fmt"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting every helper
// in this file run either standalone (Store's local CRUD, each its own
// transaction) or as part of the single sync transaction the reconciler
// drives.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const localCols = `id, hostname, http_realm, form_action_origin, username, password,
	username_field, password_field, times_used, time_created, time_last_used,
	time_password_changed, local_modified, is_deleted, sync_status`

const mirrorCols = `id, hostname, http_realm, form_action_origin, username, password,
	username_field, password_field, times_used, time_created, time_last_used,
	time_password_changed, server_modified, is_overridden`

func scanLocal(row *sql.Row) (*LocalLogin, error) {
	var l LocalLogin
	var isDeleted, status int
	err := row.Scan(&l.ID, &l.Hostname, &l.HTTPRealm, &l.FormActionOrigin, &l.Username, &l.Password,
		&l.UsernameField, &l.PasswordField, &l.TimesUsed, &l.TimeCreated, &l.TimeLastUsed,
		&l.TimePasswordChanged, &l.LocalModified, &isDeleted, &status)
	if err != nil {
		return nil, err
	}
	l.IsDeleted = isDeleted != 0
	l.SyncStatus = SyncStatus(status)
	return &l, nil
}

func scanMirror(row *sql.Row) (*MirrorLogin, error) {
	var m MirrorLogin
	var overridden int
	err := row.Scan(&m.ID, &m.Hostname, &m.HTTPRealm, &m.FormActionOrigin, &m.Username, &m.Password,
		&m.UsernameField, &m.PasswordField, &m.TimesUsed, &m.TimeCreated, &m.TimeLastUsed,
		&m.TimePasswordChanged, &m.ServerModified, &overridden)
	if err != nil {
		return nil, err
	}
	m.IsOverridden = overridden != 0
	return &m, nil
}

func getLocal(ctx context.Context, q Queryer, id string) (*LocalLogin, error) {
	row := q.QueryRowContext(ctx, `SELECT `+localCols+` FROM logins_local WHERE id = ?`, id)
	l, err := scanLocal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func getMirror(ctx context.Context, q Queryer, id string) (*MirrorLogin, error) {
	row := q.QueryRowContext(ctx, `SELECT `+mirrorCols+` FROM logins_mirror WHERE id = ?`, id)
	m, err := scanMirror(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// listCandidates returns every non-deleted overlay row and non-overridden
// mirror row, the dedupe/identity scan set per invariant 5 in spec.md §3.
func listCandidates(ctx context.Context, q Queryer) ([]Login, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT hostname, http_realm, form_action_origin, username, id FROM logins_local WHERE is_deleted = 0
		UNION ALL
		SELECT hostname, http_realm, form_action_origin, username, id FROM logins_mirror WHERE is_overridden = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Login
	for rows.Next() {
		var l Login
		if err := rows.Scan(&l.Hostname, &l.HTTPRealm, &l.FormActionOrigin, &l.Username, &l.ID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func countAll(ctx context.Context, q Queryer) (int, error) {
	var n int
	row := q.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM logins_local) + (SELECT COUNT(*) FROM logins_mirror)`)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func insertLocal(ctx context.Context, q Queryer, l LocalLogin) error {
	_, err := q.ExecContext(ctx, `INSERT INTO logins_local (`+localCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Hostname, l.HTTPRealm, l.FormActionOrigin, l.Username, l.Password,
		l.UsernameField, l.PasswordField, l.TimesUsed, l.TimeCreated, l.TimeLastUsed,
		l.TimePasswordChanged, l.LocalModified, boolInt(l.IsDeleted), int(l.SyncStatus))
	return err
}

func upsertLocal(ctx context.Context, q Queryer, l LocalLogin) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO logins_local (`+localCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			hostname=excluded.hostname, http_realm=excluded.http_realm,
			form_action_origin=excluded.form_action_origin, username=excluded.username,
			password=excluded.password, username_field=excluded.username_field,
			password_field=excluded.password_field, times_used=excluded.times_used,
			time_created=excluded.time_created, time_last_used=excluded.time_last_used,
			time_password_changed=excluded.time_password_changed,
			local_modified=excluded.local_modified, is_deleted=excluded.is_deleted,
			sync_status=excluded.sync_status`,
		l.ID, l.Hostname, l.HTTPRealm, l.FormActionOrigin, l.Username, l.Password,
		l.UsernameField, l.PasswordField, l.TimesUsed, l.TimeCreated, l.TimeLastUsed,
		l.TimePasswordChanged, l.LocalModified, boolInt(l.IsDeleted), int(l.SyncStatus))
	return err
}

func deleteLocal(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM logins_local WHERE id = ?`, id)
	return err
}

func upsertMirror(ctx context.Context, q Queryer, m MirrorLogin) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO logins_mirror (`+mirrorCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			hostname=excluded.hostname, http_realm=excluded.http_realm,
			form_action_origin=excluded.form_action_origin, username=excluded.username,
			password=excluded.password, username_field=excluded.username_field,
			password_field=excluded.password_field, times_used=excluded.times_used,
			time_created=excluded.time_created, time_last_used=excluded.time_last_used,
			time_password_changed=excluded.time_password_changed,
			server_modified=excluded.server_modified, is_overridden=excluded.is_overridden`,
		m.ID, m.Hostname, m.HTTPRealm, m.FormActionOrigin, m.Username, m.Password,
		m.UsernameField, m.PasswordField, m.TimesUsed, m.TimeCreated, m.TimeLastUsed,
		m.TimePasswordChanged, m.ServerModified, boolInt(m.IsOverridden))
	return err
}

func deleteMirror(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM logins_mirror WHERE id = ?`, id)
	return err
}

func setMirrorOverridden(ctx context.Context, q Queryer, id string, overridden bool) error {
	_, err := q.ExecContext(ctx, `UPDATE logins_mirror SET is_overridden = ? WHERE id = ?`, boolInt(overridden), id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// cloneFromMirror builds the overlay row ensure-path: if no local row
// exists, clone the mirror row's fields into a fresh overlay row at the
// given status, so subsequent mutation has something to write into.
func cloneFromMirror(m MirrorLogin, status SyncStatus, now int64) LocalLogin {
	return LocalLogin{
		Login:         m.Login,
		LocalModified: now,
		IsDeleted:     false,
		SyncStatus:    status,
	}
}

var errRowVanished = fmt.Errorf("logins: row vanished mid-transaction")
