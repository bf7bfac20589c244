package logins

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/schema"
)

// Incoming is one record off the wire: either a live payload or a
// tombstone, at the server's confirmed modified timestamp.
type Incoming struct {
	ID         string
	Tombstone  bool
	Record     payload.LoginRecord
	ServerTime int64
}

func loginFromWire(r payload.LoginRecord) Login {
	return Login{
		ID:                  r.ID,
		Hostname:            r.Hostname,
		HTTPRealm:           r.HTTPRealm,
		FormActionOrigin:    r.FormSubmitURL,
		Username:            r.Username,
		Password:            r.Password,
		UsernameField:       r.UsernameField,
		PasswordField:       r.PasswordField,
		TimeCreated:         r.TimeCreated,
		TimeLastUsed:        r.TimeLastUsed,
		TimePasswordChanged: r.TimePasswordChanged,
		TimesUsed:           r.TimesUsed,
	}
}

func loginToWire(l Login) payload.LoginRecord {
	return payload.LoginRecord{
		ID:                  l.ID,
		Hostname:            l.Hostname,
		HTTPRealm:           l.HTTPRealm,
		FormSubmitURL:       l.FormActionOrigin,
		Username:            l.Username,
		Password:            l.Password,
		UsernameField:       l.UsernameField,
		PasswordField:       l.PasswordField,
		TimeCreated:         l.TimeCreated,
		TimeLastUsed:        l.TimeLastUsed,
		TimePasswordChanged: l.TimePasswordChanged,
		TimesUsed:           l.TimesUsed,
	}
}

// getFull fetches the complete row for id, checking the overlay first
// (it's the freshest copy of anything the mirror also has).
func getFull(ctx context.Context, tx *sql.Tx, id string) (*Login, bool, error) {
	local, err := getLocal(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if local != nil {
		l := local.Login
		return &l, true, nil
	}
	mirror, err := getMirror(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if mirror != nil {
		l := mirror.Login
		return &l, false, nil
	}
	return nil, false, nil
}

// ApplyIncoming resolves one incoming record against the local state
// following the (M,L)×(U present/tombstone) table from spec.md §4.1.
func ApplyIncoming(ctx context.Context, tx *sql.Tx, in Incoming, now int64) error {
	local, err := getLocal(ctx, tx, in.ID)
	if err != nil {
		return err
	}
	mirror, err := getMirror(ctx, tx, in.ID)
	if err != nil {
		return err
	}

	switch {
	case mirror == nil && local == nil:
		return applyNoPriorState(ctx, tx, in, now)
	case mirror != nil && local == nil:
		return applyMirrorOnly(ctx, tx, in, *mirror)
	case mirror == nil && local != nil:
		return applyLocalOnly(ctx, tx, in, *local, now)
	default:
		return applyThreeWay(ctx, tx, in, *mirror, *local, now)
	}
}

// (∅, ∅): nothing known about this id locally.
func applyNoPriorState(ctx context.Context, tx *sql.Tx, in Incoming, now int64) error {
	if in.Tombstone {
		return nil
	}
	u := loginFromWire(in.Record)

	candidates, err := listCandidates(ctx, tx)
	if err != nil {
		return err
	}
	dup, found := FindDuplicate(u, candidates)
	if !found {
		return upsertMirror(ctx, tx, MirrorLogin{Login: u, ServerModified: in.ServerTime})
	}

	d, dIsLocal, err := getFull(ctx, tx, dup.ID)
	if err != nil {
		return err
	}
	if d == nil {
		return upsertMirror(ctx, tx, MirrorLogin{Login: u, ServerModified: in.ServerTime})
	}

	localNewer := dIsLocal
	merged := twoWayMergeLogin(*d, u, localNewer)
	merged.ID = u.ID

	if dup.ID != u.ID {
		if err := deleteLocal(ctx, tx, dup.ID); err != nil {
			return err
		}
		if err := deleteMirror(ctx, tx, dup.ID); err != nil {
			return err
		}
	}
	if err := upsertMirror(ctx, tx, MirrorLogin{Login: u, ServerModified: in.ServerTime}); err != nil {
		return err
	}
	if loginsDiffer(merged, u) {
		return upsertLocal(ctx, tx, LocalLogin{Login: merged, LocalModified: now, SyncStatus: StatusChanged})
	}
	return deleteLocal(ctx, tx, u.ID)
}

// (M, ∅): only the mirror knows this id.
func applyMirrorOnly(ctx context.Context, tx *sql.Tx, in Incoming, mirror MirrorLogin) error {
	if in.Tombstone {
		return deleteMirror(ctx, tx, in.ID)
	}
	u := loginFromWire(in.Record)
	return upsertMirror(ctx, tx, MirrorLogin{Login: u, ServerModified: in.ServerTime})
}

// (∅, L): only the overlay knows this id; deletion always wins.
func applyLocalOnly(ctx context.Context, tx *sql.Tx, in Incoming, local LocalLogin, now int64) error {
	if in.Tombstone {
		return deleteLocal(ctx, tx, in.ID)
	}
	u := loginFromWire(in.Record)
	localNewer := local.LocalModified >= in.ServerTime
	merged := twoWayMergeLogin(local.Login, u, localNewer)
	merged.ID = in.ID

	if err := upsertMirror(ctx, tx, MirrorLogin{Login: u, ServerModified: in.ServerTime}); err != nil {
		return err
	}
	if loginsDiffer(merged, u) {
		return upsertLocal(ctx, tx, LocalLogin{Login: merged, LocalModified: now, SyncStatus: StatusChanged})
	}
	return deleteLocal(ctx, tx, in.ID)
}

// (M, L): the full three-way case, M as shared parent.
func applyThreeWay(ctx context.Context, tx *sql.Tx, in Incoming, mirror MirrorLogin, local LocalLogin, now int64) error {
	if in.Tombstone {
		return deleteLocal(ctx, tx, in.ID)
	}
	u := loginFromWire(in.Record)
	localNewer := local.LocalModified >= in.ServerTime
	merged := threeWayMergeLogin(mirror.Login, local.Login, u, localNewer)

	if err := upsertMirror(ctx, tx, MirrorLogin{Login: u, ServerModified: in.ServerTime}); err != nil {
		return err
	}
	if loginsDiffer(merged, u) || merged.TimesUsed != u.TimesUsed {
		return upsertLocal(ctx, tx, LocalLogin{Login: merged, LocalModified: now, SyncStatus: StatusChanged})
	}
	if err := deleteLocal(ctx, tx, in.ID); err != nil {
		return err
	}
	return setMirrorOverridden(ctx, tx, in.ID, false)
}

// twoWayMergeLogin implements "no shared parent" merge: the entire
// non-commutative field set is taken wholesale from whichever side is
// newer, and times_used is summed (spec.md §4.1).
func twoWayMergeLogin(local, remote Login, localNewer bool) Login {
	merged := remote
	if localNewer {
		merged = local
	}
	merged.TimesUsed = local.TimesUsed + remote.TimesUsed
	return merged
}

var threeWayFields = []string{
	"hostname", "http_realm", "form_action_origin", "username",
	"password", "username_field", "password_field",
}

// threeWayMergeLogin resolves each field independently against shared,
// using fieldSchema's per-field strategy, then sums times_used as
// local + remote - shared.
func threeWayMergeLogin(shared, local, remote Login, localNewer bool) Login {
	merged := remote
	for _, name := range threeWayFields {
		localChanged := fieldValue(local, name) != fieldValue(shared, name)
		remoteChanged := fieldValue(remote, name) != fieldValue(shared, name)
		decision := fieldSchema.Fields[name].Resolve(schema.ConflictInput{
			LocalChanged:  localChanged,
			RemoteChanged: remoteChanged,
			LocalNewer:    localNewer,
		})
		if decision == schema.TakeLocal {
			setFieldValue(&merged, name, fieldValue(local, name))
		}
	}
	merged.TimesUsed = local.TimesUsed + remote.TimesUsed - shared.TimesUsed
	merged.ID = remote.ID
	return merged
}

func fieldValue(l Login, name string) string {
	switch name {
	case "hostname":
		return l.Hostname
	case "http_realm":
		return l.HTTPRealm
	case "form_action_origin":
		return l.FormActionOrigin
	case "username":
		return l.Username
	case "password":
		return l.Password
	case "username_field":
		return l.UsernameField
	case "password_field":
		return l.PasswordField
	}
	return ""
}

func setFieldValue(l *Login, name, value string) {
	switch name {
	case "hostname":
		l.Hostname = value
	case "http_realm":
		l.HTTPRealm = value
	case "form_action_origin":
		l.FormActionOrigin = value
	case "username":
		l.Username = value
	case "password":
		l.Password = value
	case "username_field":
		l.UsernameField = value
	case "password_field":
		l.PasswordField = value
	}
}

// loginsDiffer reports whether a and b disagree on any field a residual
// overlay row would need to carry (identifiers and times_used excluded:
// times_used is commutative bookkeeping, not a reupload trigger).
func loginsDiffer(a, b Login) bool {
	for _, name := range threeWayFields {
		if fieldValue(a, name) != fieldValue(b, name) {
			return true
		}
	}
	return false
}

// OutgoingLogin pairs a wire payload with the sort-index spec.md §4.1
// assigns: tombstones sort before live records.
type OutgoingLogin struct {
	Payload   payload.Payload
	SortIndex int
}

const (
	deletionSortIndex = 1
	normalSortIndex   = 0
)

// StageOutgoing collects every overlay row with sync_status != Synced
// into outgoing wire payloads.
func StageOutgoing(ctx context.Context, q Queryer) ([]OutgoingLogin, []string, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+localCols+` FROM logins_local WHERE sync_status != ?`, int(StatusSynced))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var out []OutgoingLogin
	var ids []string
	for rows.Next() {
		var l LocalLogin
		var isDeleted, status int
		if err := rows.Scan(&l.ID, &l.Hostname, &l.HTTPRealm, &l.FormActionOrigin, &l.Username, &l.Password,
			&l.UsernameField, &l.PasswordField, &l.TimesUsed, &l.TimeCreated, &l.TimeLastUsed,
			&l.TimePasswordChanged, &l.LocalModified, &isDeleted, &status); err != nil {
			return nil, nil, err
		}
		l.IsDeleted = isDeleted != 0
		l.SyncStatus = SyncStatus(status)

		ids = append(ids, l.ID)
		if l.IsDeleted {
			out = append(out, OutgoingLogin{Payload: payload.Tombstone(l.ID), SortIndex: deletionSortIndex})
			continue
		}
		p, err := payload.Encode(l.ID, loginToWire(l.Login))
		if err != nil {
			return nil, nil, err
		}
		out = append(out, OutgoingLogin{Payload: p, SortIndex: normalSortIndex})
	}
	return out, ids, rows.Err()
}
