package syncengine

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/logins"
	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/storage"
	"github.com/syncbridge/core/internal/syncclient"
	"github.com/syncbridge/core/internal/telemetry"
	"github.com/syncbridge/core/internal/upload"
)

// LoginsEngine runs the data flow from spec.md §2 for the logins
// collection, driving internal/logins' reconcile/store functions around
// a fetch/stage/upload/promote cycle.
type LoginsEngine struct {
	Deps
	Limits Limits
}

// NewLoginsEngine constructs a LoginsEngine against deps with the given
// upload limits.
func NewLoginsEngine(deps Deps, limits Limits) *LoginsEngine {
	return &LoginsEngine{Deps: deps, Limits: limits}
}

// Sync runs one full sync pass: fetch since last-sync, stage+reconcile
// incoming, advance last-sync, stage+upload outgoing, promote confirmed
// ids. scope is checked at every suspension point per spec.md §5.
func (e *LoginsEngine) Sync(ctx context.Context, scope *storage.InterruptScope) (telemetry.Summary, error) {
	log := e.logger().Named("sync.logins")
	var summary telemetry.Summary

	if err := scope.ErrIfInterrupted(); err != nil {
		return summary, err
	}
	ctx = scope.Context()

	lastSync, err := e.Meta.GetLastSync(ctx)
	if err != nil {
		return summary, err
	}

	fetch, err := e.Client.Fetch(ctx, telemetry.CollectionLogins, lastSync)
	if err != nil {
		return summary, err
	}

	if err := scope.ErrIfInterrupted(); err != nil {
		recordSummary(e.Registry, telemetry.CollectionLogins, summary, true)
		return summary, err
	}

	now := storage.NowMillis()
	err = storage.WithTx(ctx, e.DB.Write, func(tx *sql.Tx) error {
		for i, rec := range fetch.Records {
			if i%storage.ChunkSize == 0 {
				if err := scope.ErrIfInterrupted(); err != nil {
					return err
				}
			}
			in := logins.Incoming{ID: rec.ID, Tombstone: rec.Deleted, ServerTime: fetch.LastModified}
			if !rec.Deleted {
				var wire payload.LoginRecord
				if err := payload.Decode(rec, &wire); err != nil {
					summary.SkippedMalformed++
					continue
				}
				in.Record = wire
			}
			if err := logins.ApplyIncoming(ctx, tx, in, now); err != nil {
				return err
			}
			summary.Applied++
		}
		return nil
	})
	if err != nil {
		recordSummary(e.Registry, telemetry.CollectionLogins, summary, false)
		return summary, err
	}

	// Best-effort advance before upload, per spec.md §7: avoids
	// re-downloading our own writes if the upload below fails.
	if fetch.LastModified > lastSync {
		if err := e.Meta.SetLastSync(ctx, fetch.LastModified); err != nil {
			return summary, err
		}
	}

	outgoing, _, err := logins.StageOutgoing(ctx, e.DB.Write)
	if err != nil {
		return summary, err
	}
	if len(outgoing) == 0 {
		recordSummary(e.Registry, telemetry.CollectionLogins, summary, false)
		return summary, nil
	}

	q := upload.NewQueue(e.Client.Poster(telemetry.CollectionLogins), e.Limits.Limits, upload.Options{
		Logger:              log,
		AllowPartialFailure: e.Limits.AllowPartialFailure,
	})
	result, err := uploadAll(ctx, q, len(outgoing), func(i int) (string, []byte, error) {
		rec, err := syncclient.EncodeRecord(outgoing[i].Payload)
		return outgoing[i].Payload.ID, rec, err
	})
	if err != nil {
		return summary, err
	}
	summary.Uploaded = len(result.Confirmed)
	summary.Failed = len(result.Failed)

	store := logins.NewStore(e.DB)
	if err := store.MarkAsSynchronized(ctx, result.Confirmed, result.LastModified); err != nil {
		return summary, err
	}
	if result.LastModified > 0 {
		if err := e.Meta.SetLastSync(ctx, result.LastModified); err != nil {
			return summary, err
		}
	}

	recordSummary(e.Registry, telemetry.CollectionLogins, summary, false)
	return summary, nil
}
