package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	db, err := storage.Open(storage.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func historyPayload(t *testing.T, rec payload.HistoryRecord) payload.Payload {
	t.Helper()
	p, err := payload.Encode(rec.ID, rec)
	require.NoError(t, err)
	return p
}

func TestApplyIncomingNewPlaceIsCreatedNormal(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rec := payload.HistoryRecord{
		ID: "placeAAAAAA1", HistURI: "https://example.com/a", Title: "A",
		Visits: []payload.HistoryVisit{{Date: 1000, Transition: VisitTypeLink}},
	}
	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		scope := storage.NewInterruptScope(ctx)
		_, err := StageIncoming(ctx, tx, scope, []payload.Payload{historyPayload(t, rec)}, 0, 2000)
		return err
	}))

	place, err := getPlaceByID(ctx, db.Write, "placeAAAAAA1")
	require.NoError(t, err)
	require.NotNil(t, place)
	require.Equal(t, StatusNormal, place.SyncStatus)
	require.Equal(t, int64(1), place.VisitCountRemote)
	require.Equal(t, "example.com", place.Host)

	var visitCount int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM history_visits WHERE place_id = ?`, "placeAAAAAA1").Scan(&visitCount))
	require.Equal(t, 1, visitCount)
}

func TestApplyIncomingIdentifierReconciliationNewAdoptsRemoteID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, insertPlace(ctx, db.Write, Place{
		ID: "localPlace01", URL: "https://example.com/b", Host: "example.com",
		SyncStatus: StatusNew,
	}))

	rec := payload.HistoryRecord{ID: "remotePlace1", HistURI: "https://example.com/b", Title: "B"}
	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		scope := storage.NewInterruptScope(ctx)
		_, err := StageIncoming(ctx, tx, scope, []payload.Payload{historyPayload(t, rec)}, 0, 2000)
		return err
	}))

	gone, err := getPlaceByID(ctx, db.Write, "localPlace01")
	require.NoError(t, err)
	require.Nil(t, gone)

	adopted, err := getPlaceByID(ctx, db.Write, "remotePlace1")
	require.NoError(t, err)
	require.NotNil(t, adopted)
	require.Equal(t, StatusNormal, adopted.SyncStatus)
}

func TestApplyIncomingIdentifierReconciliationNormalKeepsLocalID(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, insertPlace(ctx, db.Write, Place{
		ID: "localPlace02", URL: "https://example.com/c", Host: "example.com",
		SyncStatus: StatusNormal, SyncChangeCounter: 0,
	}))

	rec := payload.HistoryRecord{ID: "remotePlace2", HistURI: "https://example.com/c", Title: "C"}
	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		scope := storage.NewInterruptScope(ctx)
		_, err := StageIncoming(ctx, tx, scope, []payload.Payload{historyPayload(t, rec)}, 0, 2000)
		return err
	}))

	kept, err := getPlaceByID(ctx, db.Write, "localPlace02")
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Equal(t, int64(1), kept.SyncChangeCounter)

	shouldNotExist, err := getPlaceByID(ctx, db.Write, "remotePlace2")
	require.NoError(t, err)
	require.Nil(t, shouldNotExist)
}

func TestApplyIncomingSkipsVisitOlderThanHWM(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rec := payload.HistoryRecord{
		ID: "placeOld0001", HistURI: "https://example.com/old",
		Visits: []payload.HistoryVisit{{Date: 500, Transition: VisitTypeLink}},
	}
	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		scope := storage.NewInterruptScope(ctx)
		// priorHWM of 1000 already exceeds the visit's date of 500.
		_, err := StageIncoming(ctx, tx, scope, []payload.Payload{historyPayload(t, rec)}, 1000, 2000)
		return err
	}))

	var visitCount int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM history_visits WHERE place_id = ?`, "placeOld0001").Scan(&visitCount))
	require.Zero(t, visitCount)
}

func TestApplyIncomingTombstoneDeletesLocalPlace(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "placeDel0001", URL: "https://example.com/d", Host: "example.com"}))

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		scope := storage.NewInterruptScope(ctx)
		_, err := StageIncoming(ctx, tx, scope, []payload.Payload{payload.Tombstone("https://example.com/d")}, 0, 2000)
		return err
	}))

	gone, err := getPlaceByID(ctx, db.Write, "placeDel0001")
	require.NoError(t, err)
	require.Nil(t, gone)

	var tombCount int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM history_place_tombstones WHERE url = ?`, "https://example.com/d").Scan(&tombCount))
	require.Equal(t, 1, tombCount)
}

// Scenario 5: an interrupt mid-batch rolls back the entire incoming
// staging transaction, so zero places are applied and the HWM is left
// exactly as it was.
func TestScenarioInterruptedIncomingBatchRollsBackEntirely(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	const total = 5000
	const interruptAt = 2000
	var records []payload.Payload
	for i := 0; i < total; i++ {
		rec := payload.HistoryRecord{
			ID:      fmt.Sprintf("place%07d", i),
			HistURI: fmt.Sprintf("https://example.com/%d", i),
			Visits:  []payload.HistoryVisit{{Date: int64(1000 + i), Transition: VisitTypeLink}},
		}
		records = append(records, historyPayload(t, rec))
	}

	scope := storage.NewInterruptScope(ctx)
	err := storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		for i, p := range records {
			if i == interruptAt {
				scope.Signal()
			}
			if i%storage.ChunkSize == 0 {
				if err := scope.ErrIfInterrupted(); err != nil {
					return err
				}
			}
			var rec payload.HistoryRecord
			if !p.Deleted {
				require.NoError(t, payload.Decode(p, &rec))
			}
			if err := applyIncomingPlace(ctx, tx, rec, 0, 60000); err != nil {
				return err
			}
		}
		return nil
	})
	require.ErrorIs(t, err, storage.ErrInterrupted)

	var count int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM history_places`).Scan(&count))
	require.Zero(t, count, "rollback must leave zero places applied")

	lastSync, err := storage.NewMetaStore(db).GetLastSync(ctx)
	require.NoError(t, err)
	require.Zero(t, lastSync)

	hwm, err := storage.NewMetaStore(db).GetHistoryHWM(ctx)
	require.NoError(t, err)
	require.Zero(t, hwm)
}

func TestStageOutgoingOrdersByFrecencyAndSeparatesTombstones(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p1", URL: "https://a.com", Frecency: 10, VisitCountLocal: 1}))
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p2", URL: "https://b.com", Frecency: 50, VisitCountLocal: 1}))
	_, err := db.Write.Exec(`INSERT INTO history_place_tombstones (url, date_removed) VALUES (?, ?)`, "https://gone.com", 100)
	require.NoError(t, err)

	payloads, staged, tombstoned, err := StageOutgoing(ctx, db.Write, 10, 5)
	require.NoError(t, err)
	require.Len(t, tombstoned, 1)
	require.Equal(t, "https://gone.com", tombstoned[0])
	require.Len(t, staged, 2)
	require.Equal(t, "p2", staged[0].ID) // higher frecency first
	require.Len(t, payloads, 3)
}

func TestPromoteAfterUploadDecrementsByStagedDeltaAndClearsTombstone(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p3", URL: "https://c.com", SyncChangeCounter: 3, SyncStatus: StatusNew}))
	_, err := db.Write.Exec(`INSERT INTO history_place_tombstones (url, date_removed) VALUES (?, ?)`, "https://old.com", 100)
	require.NoError(t, err)

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		return PromoteAfterUpload(ctx, tx,
			[]StagedPlace{{ID: "p3", StagedCounter: 2}},
			[]string{"https://old.com"},
			map[string]bool{"p3": true, "https://old.com": true})
	}))

	p, err := getPlaceByID(ctx, db.Write, "p3")
	require.NoError(t, err)
	require.Equal(t, int64(1), p.SyncChangeCounter) // 3 - 2, concurrent bump preserved
	require.Equal(t, StatusNormal, p.SyncStatus)

	var tombCount int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM history_place_tombstones WHERE url = ?`, "https://old.com").Scan(&tombCount))
	require.Zero(t, tombCount)
}

func TestDeleteByRangeRemovesForeignlessPlaceEntirely(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p4", URL: "https://d.com"}))
	require.NoError(t, insertVisit(ctx, db.Write, Visit{PlaceID: "p4", VisitDate: 500, IsLocal: true}))
	_, err := db.Write.Exec(`UPDATE history_places SET last_visit_local = 500 WHERE id = 'p4'`)
	require.NoError(t, err)

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		return DeleteByRange(ctx, tx, 0, 1000, 2000)
	}))

	gone, err := getPlaceByID(ctx, db.Write, "p4")
	require.NoError(t, err)
	require.Nil(t, gone)

	var tombCount int
	require.NoError(t, db.Write.QueryRow(`SELECT COUNT(*) FROM history_place_tombstones WHERE url = ?`, "https://d.com").Scan(&tombCount))
	require.Equal(t, 1, tombCount)
}

func TestWipeLocalResetsBookmarkedPlaceFrecency(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p5", URL: "https://e.com", ForeignCount: 1, Frecency: 5}))
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p6", URL: "https://f.com", ForeignCount: 0, Frecency: 5}))

	require.NoError(t, storage.WithTx(ctx, db.Write, func(tx *sql.Tx) error {
		return WipeLocal(ctx, tx)
	}))

	bookmarked, err := getPlaceByID(ctx, db.Write, "p5")
	require.NoError(t, err)
	require.NotNil(t, bookmarked)
	require.Equal(t, int64(UnvisitedBookmarkFrecency), bookmarked.Frecency)

	unreferenced, err := getPlaceByID(ctx, db.Write, "p6")
	require.NoError(t, err)
	require.Nil(t, unreferenced)
}

func TestComputeFrecencyWeightsTypedOverLink(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, insertPlace(ctx, db.Write, Place{ID: "p7", URL: "https://g.com"}))
	require.NoError(t, insertVisit(ctx, db.Write, Visit{PlaceID: "p7", VisitDate: 1000, VisitType: VisitTypeTyped, IsLocal: true}))

	score, err := ComputeFrecency(ctx, db.Write, "p7", 2000)
	require.NoError(t, err)
	require.Greater(t, score, int64(UnvisitedBookmarkFrecency))
}
