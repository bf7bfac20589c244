// Package logins implements the per-record three-way merge engine for the
// logins collection, per spec.md §4.1: validation/fixup, the duplicate
// predicate, local CRUD, bulk import, and incoming reconciliation.
package logins

import "github.com/syncbridge/core/internal/schema"

// SyncStatus is the tri-state defined in spec.md's glossary.
type SyncStatus int

const (
	StatusNew SyncStatus = iota
	StatusChanged
	StatusSynced
)

// Login is the record shape from spec.md §4.1: identifier, normalized
// origin ("hostname" is the historically misnamed field), password,
// username, exactly one of {HTTPRealm, FormActionOrigin}, optional field
// names, and four timestamps.
type Login struct {
	ID                  string
	Hostname            string
	HTTPRealm           string
	FormActionOrigin    string
	Username            string
	Password            string
	UsernameField       string
	PasswordField       string
	TimeCreated         int64
	TimeLastUsed        int64
	TimePasswordChanged int64
	TimesUsed           int64
}

// LocalLogin is one row of the overlay: a Login plus the bookkeeping
// fields spec.md §3 assigns every overlay row.
type LocalLogin struct {
	Login
	LocalModified int64
	IsDeleted     bool
	SyncStatus    SyncStatus
}

// MirrorLogin is one row of the mirror: a Login plus the last-confirmed
// server timestamp and override flag.
type MirrorLogin struct {
	Login
	ServerModified int64
	IsOverridden   bool
}

// Target returns whichever of HTTPRealm/FormActionOrigin is set — exactly
// one must be, post-fixup.
func (l Login) Target() string {
	if l.HTTPRealm != "" {
		return l.HTTPRealm
	}
	return l.FormActionOrigin
}

// fieldSchema declares the per-field merge strategy used by the three-way
// reconciler in reconcile.go. times_used is the one commutative field;
// everything else resolves by latest-modified-timestamp.
var fieldSchema = mustSchema()

func mustSchema() *schema.RecordSchema {
	s, err := schema.NewRecordSchema(
		schema.FieldMerge{Name: "hostname"},
		schema.FieldMerge{Name: "http_realm"},
		schema.FieldMerge{Name: "form_action_origin"},
		schema.FieldMerge{Name: "username"},
		schema.FieldMerge{Name: "password"},
		schema.FieldMerge{Name: "username_field"},
		schema.FieldMerge{Name: "password_field"},
		schema.FieldMerge{Name: "times_used", Strategy: schema.Commutative},
	)
	if err != nil {
		panic(err)
	}
	return s
}
