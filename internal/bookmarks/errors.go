package bookmarks

import "errors"

// Corruption errors are fatal: unlike validation errors, these mean the
// local or remote tree cannot be trusted enough to merge at all (spec.md
// §9: "unreachable corruption is a fatal error").
var (
	// ErrLocalRootsCorrupt is returned when the local root row is missing.
	ErrLocalRootsCorrupt = errors.New("bookmarks: local roots corrupt")
	// ErrSyncedRootsCorrupt is returned when the remote root row is missing.
	ErrSyncedRootsCorrupt = errors.New("bookmarks: synced roots corrupt")
	// ErrUnsyncableKind marks a record whose kind can never be reconciled
	// (e.g. an unrecognized tagged variant arriving from the server).
	ErrUnsyncableKind = errors.New("bookmarks: unsyncable kind")
)
