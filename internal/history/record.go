// Package history implements the history collection's mirror/overlay
// storage, incoming visit application, and outgoing staging, per
// spec.md §4.3.
package history

// SyncStatus mirrors logins/bookmarks' tri/bi-state overlay marker: New
// places exist only locally and adopt whatever identifier an incoming
// record claims for the same URL; Normal places have already been
// reconciled at least once and keep their local identifier even if a
// later incoming record disagrees.
type SyncStatus int

const (
	StatusNew SyncStatus = iota
	StatusNormal
)

// Visit is one (place, date) entry. Date is milliseconds since epoch,
// matching the wire format; IsLocal distinguishes visits recorded by this
// client from ones applied from an incoming record.
type Visit struct {
	PlaceID   string
	VisitDate int64
	VisitType int
	IsLocal   bool
	FromVisit int64
}

// Place is one row of history_places.
type Place struct {
	ID                string
	URL               string
	Host              string
	Title             string
	Hidden            bool
	Typed             bool
	Frecency          int64
	VisitCountLocal   int64
	VisitCountRemote  int64
	LastVisitLocal    int64
	LastVisitRemote   int64
	ForeignCount      int64
	SyncStatus        SyncStatus
	SyncChangeCounter int64
}

// UnvisitedBookmarkFrecency is the frecency value assigned to a bookmarked
// place that has no visits of its own, per spec.md §4.3's wipe-local step
// ("reset frecency to the configured unvisited-bookmark bonus").
const UnvisitedBookmarkFrecency = 100
