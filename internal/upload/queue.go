// Package upload implements the batched POST queue from spec.md §4.4: a
// stateful client for a server that exposes `POST ?batch=true`,
// `POST ?batch=<id>`, and `POST ?batch=<id>&commit=true`.
package upload

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrProtocol is returned when the server's response does not match one
// of the state transitions spec.md §4.4 describes (a 202 without a batch
// id on first flush, or a batch id that does not match the one the queue
// is currently tracking).
var ErrProtocol = errors.New("upload: protocol error")

// ErrUploadFailed wraps the server's per-id failure reasons when the
// queue is not configured to allow partial failure.
type ErrUploadFailed struct {
	Failed map[string]string
}

func (e *ErrUploadFailed) Error() string {
	return fmt.Sprintf("upload: %d record(s) failed", len(e.Failed))
}

// Response is the abstract shape of a batch endpoint's reply, per
// spec.md §6: `{success: [...], failed: {id: reason}, batch?: "<id>"}`,
// plus the transport-level status code and the authoritative
// last-modified timestamp a 200 response carries.
type Response struct {
	StatusCode   int
	Success      []string
	Failed       map[string]string
	Batch        string
	LastModified int64
}

// Poster performs one POST of the given record bodies, with batch set to
// "" (no batch param), "true" (open/probe a batch), or an existing batch
// id, and commit indicating whether `&commit=true` should be appended.
type Poster interface {
	Post(ctx context.Context, records [][]byte, batch string, commit bool) (Response, error)
}

// Limits mirrors the server-advertised configuration spec.md §4.4 names.
type Limits struct {
	MaxRequestBytes       int
	MaxRecordPayloadBytes int
	MaxPostRecords        int
	MaxPostBytes          int
	MaxTotalRecords       int
	MaxTotalBytes         int
}

// Result accumulates the outcome of every flush across a queue's
// lifetime: ids the server has confirmed (either via a 200/commit
// response or an Unsupported-mode response), ids still buffered as
// pending inside an open, uncommitted batch, per-id failure reasons, and
// the most recent authoritative last-modified timestamp.
type Result struct {
	Confirmed    []string
	Pending      []string
	Failed       map[string]string
	LastModified int64
}

// recordKind is the internal bookkeeping protocol state, per spec.md
// §4.4's `Unsupported | NoBatch | InBatch(id)`.
type recordKind int

const (
	stateFresh recordKind = iota // never flushed; next flush is the probing "first flush"
	stateInBatch
	stateUnsupported
)

// Queue implements the enqueue/flush policy and batch state machine. The
// zero value is not usable; construct with NewQueue.
type Queue struct {
	poster              Poster
	limits              Limits
	logger              *zap.Logger
	allowPartialFailure bool

	state   recordKind
	batchID string

	buf      [][]byte
	bufBytes int

	totalRecords int
	totalBytes   int

	result Result
}

// Options configures a Queue beyond the mandatory poster/limits.
type Options struct {
	Logger              *zap.Logger
	AllowPartialFailure bool
}

// NewQueue constructs a queue against poster with the given limits.
func NewQueue(poster Poster, limits Limits, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Queue{
		poster:              poster,
		limits:              limits,
		logger:              opts.Logger.Named("upload"),
		allowPartialFailure: opts.AllowPartialFailure,
		result:              Result{Failed: map[string]string{}},
	}
}

// frameOverhead is the per-record JSON array framing cost (comma plus
// surrounding brackets, approximated per-element) this queue budgets
// against max_request_bytes, since the wire body is the records joined
// into a single JSON array rather than sent individually.
const frameOverhead = 2

// Enqueue adds one serialized record to the queue, per spec.md §4.4's
// enqueue policy. A record whose size exceeds a hard per-record or
// per-request limit is dropped silently (with a logged warning) and
// never split. Otherwise, enqueuing may trigger a flush of the buffer
// built up so far (if adding this record would exceed a post limit) and
// may trigger a commit-and-restart (if adding it would exceed a total
// limit for this upload).
func (q *Queue) Enqueue(ctx context.Context, id string, rec []byte) error {
	size := len(rec) + frameOverhead
	if size > q.limits.MaxRecordPayloadBytes || size > q.limits.MaxRequestBytes {
		q.logger.Warn("dropping oversized record", zap.String("id", id), zap.Int("size", size))
		return nil
	}

	overPost := len(q.buf)+1 > q.limits.MaxPostRecords ||
		q.bufBytes+size > q.limits.MaxPostBytes ||
		q.bufBytes+size > q.limits.MaxRequestBytes
	if overPost && len(q.buf) > 0 {
		overTotalAlready := q.totalRecords > q.limits.MaxTotalRecords || q.totalBytes > q.limits.MaxTotalBytes
		if err := q.flush(ctx, overTotalAlready); err != nil {
			return err
		}
	}

	q.buf = append(q.buf, rec)
	q.bufBytes += size
	q.totalRecords++
	q.totalBytes += size

	overTotal := q.totalRecords > q.limits.MaxTotalRecords || q.totalBytes > q.limits.MaxTotalBytes
	if overTotal {
		if err := q.flush(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

// Finish flushes any remaining buffered records with commit=true (or as
// an independent POST if the server turned out not to support batching)
// and returns the accumulated result. Call it once at the end of an
// upload pass.
func (q *Queue) Finish(ctx context.Context) (Result, error) {
	if len(q.buf) > 0 || q.state == stateInBatch {
		if err := q.flush(ctx, true); err != nil {
			return q.result, err
		}
	}
	if !q.allowPartialFailure && len(q.result.Failed) > 0 {
		return q.result, &ErrUploadFailed{Failed: q.result.Failed}
	}
	return q.result, nil
}

func (q *Queue) flush(ctx context.Context, commit bool) error {
	buf := q.buf
	q.buf = nil
	q.bufBytes = 0

	switch q.state {
	case stateUnsupported:
		return q.flushUnsupported(ctx, buf)
	case stateInBatch:
		return q.flushInBatch(ctx, buf, commit)
	default:
		return q.flushFirst(ctx, buf, commit)
	}
}

func (q *Queue) flushUnsupported(ctx context.Context, buf [][]byte) error {
	resp, err := q.poster.Post(ctx, buf, "", false)
	if err != nil {
		return err
	}
	q.applySuccessAndFailure(resp)
	q.result.LastModified = resp.LastModified
	return nil
}

func (q *Queue) flushFirst(ctx context.Context, buf [][]byte, commit bool) error {
	resp, err := q.poster.Post(ctx, buf, "true", commit)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == 200 && resp.Batch == "":
		q.state = stateUnsupported
		q.applySuccessAndFailure(resp)
		q.result.LastModified = resp.LastModified
	case resp.StatusCode == 202 && resp.Batch != "":
		q.state = stateInBatch
		q.batchID = resp.Batch
		q.result.Pending = append(q.result.Pending, resp.Success...)
		q.applyFailure(resp)
	default:
		return fmt.Errorf("%w: unexpected first-flush response (status=%d batch=%q)", ErrProtocol, resp.StatusCode, resp.Batch)
	}
	return nil
}

func (q *Queue) flushInBatch(ctx context.Context, buf [][]byte, commit bool) error {
	resp, err := q.poster.Post(ctx, buf, q.batchID, commit)
	if err != nil {
		return err
	}
	switch {
	case resp.StatusCode == 202 && resp.Batch == q.batchID:
		q.result.Pending = append(q.result.Pending, resp.Success...)
		q.applyFailure(resp)
	case resp.StatusCode == 200 && resp.Batch == q.batchID:
		q.result.Confirmed = append(q.result.Confirmed, q.result.Pending...)
		q.result.Confirmed = append(q.result.Confirmed, resp.Success...)
		q.result.Pending = nil
		q.result.LastModified = resp.LastModified
		q.applyFailure(resp)
		q.resetBatchSession()
	default:
		return fmt.Errorf("%w: mismatched batch id (have %q, response %q, status=%d)", ErrProtocol, q.batchID, resp.Batch, resp.StatusCode)
	}
	return nil
}

// resetBatchSession closes out the current batch: the next Enqueue-
// triggered flush starts over as a first flush (spec.md §4.4: hitting a
// total limit "commits the current batch and begins a new one").
func (q *Queue) resetBatchSession() {
	q.state = stateFresh
	q.batchID = ""
	q.totalRecords = 0
	q.totalBytes = 0
}

func (q *Queue) applySuccessAndFailure(resp Response) {
	q.result.Confirmed = append(q.result.Confirmed, resp.Success...)
	q.applyFailure(resp)
}

func (q *Queue) applyFailure(resp Response) {
	for id, reason := range resp.Failed {
		q.result.Failed[id] = reason
	}
}
