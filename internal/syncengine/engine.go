// Package syncengine drives the per-sync data flow from spec.md §2 for
// one collection: fetch remote changes since last-sync, stage them into
// the mirror/overlay and reconcile inside one transaction, advance
// last-sync (best-effort, before upload, so an interrupted upload never
// re-downloads our own writes), stage outgoing changes, upload them
// through the batched queue, and promote confirmed ids on success. Each
// collection engine (logins.go, bookmarks.go, history.go) wires its own
// stage/reconcile/promote calls around this shared shape, grounded on
// the constructor-plus-method repository shape used throughout
// internal/logins, internal/bookmarks, and internal/history.
package syncengine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/syncbridge/core/internal/storage"
	"github.com/syncbridge/core/internal/syncclient"
	"github.com/syncbridge/core/internal/telemetry"
	"github.com/syncbridge/core/internal/upload"
)

// Limits bundles the server-advertised batch configuration (spec.md
// §4.4) applied uniformly to every collection's upload queue, plus
// whether a collection's upload is allowed to report partial failure
// without aborting the sync.
type Limits struct {
	upload.Limits
	AllowPartialFailure bool
}

// Deps are the collaborators every collection engine shares: the write
// connection plus meta store opened by internal/storage, the HTTP
// client from internal/syncclient, the Prometheus registry from
// internal/telemetry, and a logger. Collection-specific engines embed
// Deps and add their own per-collection Limits/MaxPlaces-style knobs.
type Deps struct {
	DB       *storage.DB
	Meta     *storage.MetaStore
	Client   *syncclient.Client
	Registry *telemetry.Registry
	Logger   *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// recordSummary adds one sync pass's applied and malformed-skip counts,
// and an interrupted-sync count if interrupted, to the process-wide
// Registry counters, if present. It does not modify the Summary.
func recordSummary(reg *telemetry.Registry, collection string, s telemetry.Summary, interrupted bool) {
	if reg == nil {
		return
	}
	reg.RecordsApplied.WithLabelValues(collection).Add(float64(s.Applied))
	if s.SkippedMalformed > 0 {
		reg.RecordsSkipped.WithLabelValues(collection, "malformed").Add(float64(s.SkippedMalformed))
	}
	if interrupted {
		reg.SyncsInterrupted.WithLabelValues(collection).Inc()
	}
}

// uploadAll drains outgoing into q, returning the queue's Result. It is
// the common "Enqueue every staged payload, then Finish" loop each
// collection engine runs after staging its outgoing records.
func uploadAll(ctx context.Context, q *upload.Queue, n int, encode func(i int) (string, []byte, error)) (upload.Result, error) {
	for i := 0; i < n; i++ {
		id, rec, err := encode(i)
		if err != nil {
			return upload.Result{}, fmt.Errorf("syncengine: encode outgoing record %d: %w", i, err)
		}
		if err := q.Enqueue(ctx, id, rec); err != nil {
			return upload.Result{}, err
		}
	}
	return q.Finish(ctx)
}

// confirmedSet turns a Result's confirmed-id slice into a lookup map,
// the shape history.PromoteAfterUpload expects.
func confirmedSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
