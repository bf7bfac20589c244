package syncengine

import (
	"context"
	"database/sql"

	"github.com/syncbridge/core/internal/bookmarks"
	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/storage"
	"github.com/syncbridge/core/internal/syncclient"
	"github.com/syncbridge/core/internal/telemetry"
	"github.com/syncbridge/core/internal/upload"
)

// BookmarksEngine runs the data flow from spec.md §2 for the bookmarks
// collection: stage incoming into the mirror, run the structural
// validity pre-pass, build both trees, run the three-way merge, execute
// the resulting plan and stage its outgoing half — all inside one
// transaction per spec.md §4.2 step list — then upload and promote.
type BookmarksEngine struct {
	Deps
	Limits Limits
}

// NewBookmarksEngine constructs a BookmarksEngine against deps.
func NewBookmarksEngine(deps Deps, limits Limits) *BookmarksEngine {
	return &BookmarksEngine{Deps: deps, Limits: limits}
}

// Sync runs one full bookmarks sync pass.
func (e *BookmarksEngine) Sync(ctx context.Context, scope *storage.InterruptScope) (telemetry.Summary, error) {
	log := e.logger().Named("sync.bookmarks")
	var summary telemetry.Summary

	if err := scope.ErrIfInterrupted(); err != nil {
		return summary, err
	}
	ctx = scope.Context()

	lastSync, err := e.Meta.GetLastSync(ctx)
	if err != nil {
		return summary, err
	}

	fetch, err := e.Client.Fetch(ctx, telemetry.CollectionBookmarks, lastSync)
	if err != nil {
		return summary, err
	}

	if err := scope.ErrIfInterrupted(); err != nil {
		recordSummary(e.Registry, telemetry.CollectionBookmarks, summary, true)
		return summary, err
	}

	now := storage.NowMillis()
	var plan *bookmarks.Plan
	var outgoing []payload.Payload

	err = storage.WithTx(ctx, e.DB.Write, func(tx *sql.Tx) error {
		if err := bookmarks.EnsureLocalRoots(ctx, tx, now); err != nil {
			return err
		}
		if err := bookmarks.StageIncoming(ctx, tx, fetch.Records, now); err != nil {
			return err
		}
		summary.Applied += len(fetch.Records)

		if err := scope.ErrIfInterrupted(); err != nil {
			return err
		}
		if err := bookmarks.RunStructuralValidityPrePass(ctx, tx); err != nil {
			return err
		}

		local, err := bookmarks.BuildLocalTree(ctx, tx, now)
		if err != nil {
			return err
		}
		remote, err := bookmarks.BuildRemoteTree(ctx, tx, now)
		if err != nil {
			return err
		}

		plan, err = bookmarks.Merge(local, remote, now)
		if err != nil {
			return err
		}
		summary.Reconciled = len(plan.Ops)

		if err := scope.ErrIfInterrupted(); err != nil {
			return err
		}
		if err := bookmarks.ApplyPlan(ctx, tx, plan, now); err != nil {
			return err
		}

		outgoing, err = bookmarks.StageOutgoing(ctx, tx, plan)
		return err
	})
	if err != nil {
		recordSummary(e.Registry, telemetry.CollectionBookmarks, summary, false)
		return summary, err
	}

	if fetch.LastModified > lastSync {
		if err := e.Meta.SetLastSync(ctx, fetch.LastModified); err != nil {
			return summary, err
		}
	}

	if len(outgoing) == 0 {
		recordSummary(e.Registry, telemetry.CollectionBookmarks, summary, false)
		return summary, nil
	}

	q := upload.NewQueue(e.Client.Poster(telemetry.CollectionBookmarks), e.Limits.Limits, upload.Options{
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

	err = storage.WithTx(ctx, e.DB.Write, func(tx *sql.Tx) error {
		return bookmarks.PromoteAfterUpload(ctx, tx, result.Confirmed)
	})
	if err != nil {
		return summary, err
	}
	if result.LastModified > 0 {
		if err := e.Meta.SetLastSync(ctx, result.LastModified); err != nil {
			return summary, err
		}
	}

	recordSummary(e.Registry, telemetry.CollectionBookmarks, summary, false)
	return summary, nil
}

