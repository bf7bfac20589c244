package history

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/storage"
)

// computeHWM implements spec.md §4.3's deletion high-water mark: the max
// of the latest visit date already on file, the previously stored mark,
// and now. It only ever advances.
func computeHWM(ctx context.Context, q Queryer, priorHWM, now int64) (int64, error) {
	mirrorMax, err := maxVisitDate(ctx, q)
	if err != nil {
		return 0, err
	}
	hwm := priorHWM
	if mirrorMax > hwm {
		hwm = mirrorMax
	}
	if now > hwm {
		hwm = now
	}
	return hwm, nil
}

// StageIncoming applies a batch of incoming history payloads inside tx,
// per spec.md §4.3, and returns the (possibly advanced) deletion
// high-water mark for the caller to persist via storage.MetaStore once
// the transaction commits. priorHWM is the previously stored mark.
//
// scope is consulted every storage.ChunkSize records (spec.md §5's
// "every chunk boundary of the incoming staging loop"); a mid-batch
// interrupt returns storage.ErrInterrupted and the caller's surrounding
// storage.WithTx rolls the whole batch back, so an interrupted sync
// leaves the HWM and every place/visit row exactly as they were.
func StageIncoming(ctx context.Context, tx *sql.Tx, scope *storage.InterruptScope, records []payload.Payload, priorHWM, now int64) (int64, error) {
	hwm, err := computeHWM(ctx, tx, priorHWM, now)
	if err != nil {
		return priorHWM, err
	}

	for i, p := range records {
		if i%storage.ChunkSize == 0 {
			if err := scope.ErrIfInterrupted(); err != nil {
				return priorHWM, err
			}
		}
		if p.Deleted {
			if err := applyIncomingDeletion(ctx, tx, p.ID, now); err != nil {
				return hwm, err
			}
			continue
		}
		var rec payload.HistoryRecord
		if err := payload.Decode(p, &rec); err != nil {
			continue // malformed single record: dropped silently, sync proceeds (spec.md §8)
		}
		if err := applyIncomingPlace(ctx, tx, rec, hwm, now); err != nil {
			return hwm, err
		}
	}
	return hwm, nil
}

func applyIncomingDeletion(ctx context.Context, tx *sql.Tx, url string, now int64) error {
	place, err := getPlaceByURL(ctx, tx, url)
	if err != nil {
		return err
	}
	if place == nil {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_visits WHERE place_id = ?`, place.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM history_places WHERE id = ?`, place.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO history_place_tombstones (url, date_removed) VALUES (?, ?)`, url, now)
	return err
}

func applyIncomingPlace(ctx context.Context, tx *sql.Tx, rec payload.HistoryRecord, hwm, now int64) error {
	existing, err := getPlaceByURL(ctx, tx, rec.HistURI)
	if err != nil {
		return err
	}

	var place Place
	bumpCounter := false
	if existing == nil {
		place = Place{
			ID:         rec.ID,
			URL:        rec.HistURI,
			Host:       hostOf(rec.HistURI),
			SyncStatus: StatusNormal,
		}
		if err := insertPlace(ctx, tx, place); err != nil {
			return err
		}
	} else {
		place = *existing
		if existing.ID != rec.ID {
			switch existing.SyncStatus {
			case StatusNew:
				// Local-only place never reconciled with a server id yet:
				// adopt the incoming identifier outright.
				if err := renamePlaceID(ctx, tx, existing.ID, rec.ID); err != nil {
					return err
				}
				place.ID = rec.ID
			default:
				// Already reconciled under our own id: keep it, and mark
				// dirty so the next outgoing pass re-asserts it to the
				// server under the local identifier.
				bumpCounter = true
			}
		}
	}

	for _, v := range rec.Visits {
		if v.Date < hwm {
			continue
		}
		exists, err := visitExists(ctx, tx, place.ID, v.Date)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := insertVisit(ctx, tx, Visit{PlaceID: place.ID, VisitDate: v.Date, VisitType: v.Transition}); err != nil {
			return err
		}
		place.VisitCountRemote++
		if v.Date > place.LastVisitRemote {
			place.LastVisitRemote = v.Date
		}
	}

	if rec.Title != "" {
		place.Title = rec.Title
	}
	place.SyncStatus = StatusNormal
	if bumpCounter {
		place.SyncChangeCounter++
	}
	if err := updatePlace(ctx, tx, place); err != nil {
		return err
	}
	return MarkFrecencyStale(ctx, tx, place.ID)
}
