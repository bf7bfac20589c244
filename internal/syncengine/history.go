package syncengine

import (
	"context"
	"database/sql"
	"errors"

	"github.com/syncbridge/core/internal/history"
	"github.com/syncbridge/core/internal/storage"
	"github.com/syncbridge/core/internal/syncclient"
	"github.com/syncbridge/core/internal/telemetry"
	"github.com/syncbridge/core/internal/upload"
)

// HistoryEngine runs the data flow from spec.md §2 for the history
// collection: stage incoming visits against the deletion high-water
// mark, stage outgoing places ordered by frecency, upload, and promote.
type HistoryEngine struct {
	Deps
	Limits    Limits
	MaxPlaces int
	MaxVisits int
}

// NewHistoryEngine constructs a HistoryEngine against deps. maxPlaces/
// maxVisits bound outgoing staging per spec.md §4.3.
func NewHistoryEngine(deps Deps, limits Limits, maxPlaces, maxVisits int) *HistoryEngine {
	return &HistoryEngine{Deps: deps, Limits: limits, MaxPlaces: maxPlaces, MaxVisits: maxVisits}
}

// Sync runs one full history sync pass.
func (e *HistoryEngine) Sync(ctx context.Context, scope *storage.InterruptScope) (telemetry.Summary, error) {
	log := e.logger().Named("sync.history")
	var summary telemetry.Summary

	if err := scope.ErrIfInterrupted(); err != nil {
		return summary, err
	}
	ctx = scope.Context()

	lastSync, err := e.Meta.GetLastSync(ctx)
	if err != nil {
		return summary, err
	}
	priorHWM, err := e.Meta.GetHistoryHWM(ctx)
	if err != nil {
		return summary, err
	}

	fetch, err := e.Client.Fetch(ctx, telemetry.CollectionHistory, lastSync)
	if err != nil {
		return summary, err
	}

	if err := scope.ErrIfInterrupted(); err != nil {
		recordSummary(e.Registry, telemetry.CollectionHistory, summary, true)
		return summary, err
	}

	now := storage.NowMillis()
	var newHWM int64
	err = storage.WithTx(ctx, e.DB.Write, func(tx *sql.Tx) error {
		var txErr error
		newHWM, txErr = history.StageIncoming(ctx, tx, scope, fetch.Records, priorHWM, now)
		return txErr
	})
	if err != nil {
		recordSummary(e.Registry, telemetry.CollectionHistory, summary, errors.Is(err, storage.ErrInterrupted))
		return summary, err
	}
	summary.Applied += len(fetch.Records)

	if newHWM != priorHWM {
		if err := e.Meta.SetHistoryHWM(ctx, newHWM); err != nil {
			return summary, err
		}
	}
	if fetch.LastModified > lastSync {
		if err := e.Meta.SetLastSync(ctx, fetch.LastModified); err != nil {
			return summary, err
		}
	}

	outgoing, staged, tombstoned, err := history.StageOutgoing(ctx, e.DB.Write, e.MaxPlaces, e.MaxVisits)
	if err != nil {
		return summary, err
	}
	if len(outgoing) == 0 {
		recordSummary(e.Registry, telemetry.CollectionHistory, summary, false)
		return summary, nil
	}

	q := upload.NewQueue(e.Client.Poster(telemetry.CollectionHistory), e.Limits.Limits, upload.Options{
		Logger:              log,
		AllowPartialFailure: e.Limits.AllowPartialFailure,
	})
	result, err := uploadAll(ctx, q, len(outgoing), func(i int) (string, []byte, error) {
		rec, err := syncclient.EncodeRecord(outgoing[i])
		return outgoing[i].ID, rec, err
	})
	if err != nil {
		return summary, err
	}
	summary.Uploaded = len(result.Confirmed)
	summary.Failed = len(result.Failed)

	confirmed := confirmedSet(result.Confirmed)
	err = storage.WithTx(ctx, e.DB.Write, func(tx *sql.Tx) error {
		return history.PromoteAfterUpload(ctx, tx, staged, tombstoned, confirmed)
	})
	if err != nil {
		return summary, err
	}
	if result.LastModified > 0 {
		if err := e.Meta.SetLastSync(ctx, result.LastModified); err != nil {
			return summary, err
		}
	}

	recordSummary(e.Registry, telemetry.CollectionHistory, summary, false)
	return summary, nil
}
