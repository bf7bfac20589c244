// Package bookmarks implements the structural three-way merge engine for
// the bookmarks collection: an ID-indexed tree (not a pointer graph) is
// built from the local and remote sides, matched by identity and content,
// and reconciled into a completion plan of typed operations applied in a
// single transaction, per spec.md §4.2.
package bookmarks

// Kind is the tagged variant over bookmark node types. Livemark is never
// uploaded but can still arrive as an incoming record.
type Kind string

const (
	KindBookmark  Kind = "bookmark"
	KindFolder    Kind = "folder"
	KindSeparator Kind = "separator"
	KindQuery     Kind = "query"
	KindLivemark  Kind = "livemark"
)

// Validity is the mirror row's re-upload classification from the
// structural pre-pass.
type Validity string

const (
	ValidityValid    Validity = "valid"
	ValidityReupload Validity = "reupload"
	ValidityReplace  Validity = "replace"
)

// SyncStatus is a bookmark item's two-state sync marker: New (never
// uploaded) or Normal.
type SyncStatus int

const (
	StatusNew SyncStatus = iota
	StatusNormal
)

const (
	RootID    = "root________"
	UnfiledID = "unfiled_____"
	MenuID    = "menu________"
	ToolbarID = "toolbar_____"
	MobileID  = "mobile______"
)

