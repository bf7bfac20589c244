package storage

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// NewGUID returns a stable, opaque, URL-safe short identifier for a newly
// created syncable entity. It is time-ordered (UUIDv7) for B-tree-friendly
// insertion, the same rationale the teacher's db.base.BeforeCreate uses
// for primary keys — but base64url-encoded down to 22 characters, matching
// the "short string" identity spec.md §3 requires rather than a 36-char
// UUID string form.
func NewGUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(id[:]), nil
}

// MustNewGUID panics on entropy failure, which never happens on any
// supported platform; used where callers already treat construction
// failure as fatal (the logins tests).
func MustNewGUID() string {
	g, err := NewGUID()
	if err != nil {
		panic(err)
	}
	return g
}
