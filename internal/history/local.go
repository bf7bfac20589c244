package history

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/storage"
)

// RecordLocalVisit records one locally-originated visit to rawURL, creating
// the place (status New) if it doesn't exist yet. This is the local-write
// counterpart to incoming application in applyIncomingPlace: a place this
// client visits on its own starts New and is only promoted to Normal once
// it has round-tripped through a sync, exactly as a freshly-typed bookmark
// or login starts New until reconciled.
func RecordLocalVisit(ctx context.Context, tx *sql.Tx, rawURL, title string, visitType int, visitDate, now int64) error {
	place, err := getPlaceByURL(ctx, tx, rawURL)
	if err != nil {
		return err
	}
	if place == nil {
		id, err := storage.NewGUID()
		if err != nil {
			return err
		}
		place = &Place{ID: id, URL: rawURL, Host: hostOf(rawURL), Title: title, SyncStatus: StatusNew}
		if err := insertPlace(ctx, tx, *place); err != nil {
			return err
		}
	}

	exists, err := visitExists(ctx, tx, place.ID, visitDate)
	if err != nil {
		return err
	}
	if !exists {
		if err := insertVisit(ctx, tx, Visit{PlaceID: place.ID, VisitDate: visitDate, VisitType: visitType, IsLocal: true}); err != nil {
			return err
		}
	}

	place.VisitCountLocal++
	if visitDate > place.LastVisitLocal {
		place.LastVisitLocal = visitDate
	}
	if title != "" {
		place.Title = title
	}
	if err := updatePlace(ctx, tx, *place); err != nil {
		return err
	}
	return MarkFrecencyStale(ctx, tx, place.ID)
}
