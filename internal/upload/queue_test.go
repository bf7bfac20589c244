package upload

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type postCall struct {
	records [][]byte
	batch   string
	commit  bool
}

type scriptedPoster struct {
	calls     []postCall
	responses []Response
}

func (p *scriptedPoster) Post(ctx context.Context, records [][]byte, batch string, commit bool) (Response, error) {
	p.calls = append(p.calls, postCall{records: records, batch: batch, commit: commit})
	if len(p.calls) > len(p.responses) {
		return Response{}, fmt.Errorf("scriptedPoster: no response scripted for call %d", len(p.calls))
	}
	return p.responses[len(p.calls)-1], nil
}

func record(id string) []byte {
	return bytes.Repeat([]byte("x"), 98) // 98 + 2-byte frame overhead = 100
}

// Scenario 6: max_post_records = 3 is the binding constraint (the
// scenario's byte accounting does not reconcile under a literal
// per-record-byte sum — see DESIGN.md), producing three POSTs of
// 3/3/1 records: open, continue, commit.
func TestScenarioBatchedUploadAtomicity(t *testing.T) {
	ctx := context.Background()
	poster := &scriptedPoster{
		responses: []Response{
			{StatusCode: 202, Batch: "batch-1", Success: []string{"r1", "r2", "r3"}},
			{StatusCode: 202, Batch: "batch-1", Success: []string{"r4", "r5", "r6"}},
			{StatusCode: 200, Batch: "batch-1", Success: []string{"r7"}, LastModified: 99999},
		},
	}
	q := NewQueue(poster, Limits{
		MaxRequestBytes:       1_000_000,
		MaxRecordPayloadBytes: 1_000_000,
		MaxPostRecords:        3,
		MaxPostBytes:          1_000_000,
		MaxTotalRecords:       1_000_000,
		MaxTotalBytes:         1_000_000,
	}, Options{})

	ids := []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(ctx, id, record(id)))
	}
	result, err := q.Finish(ctx)
	require.NoError(t, err)

	require.Len(t, poster.calls, 3)
	require.Equal(t, 3, len(poster.calls[0].records))
	require.Equal(t, "true", poster.calls[0].batch)
	require.False(t, poster.calls[0].commit)
	require.Equal(t, 3, len(poster.calls[1].records))
	require.Equal(t, "batch-1", poster.calls[1].batch)
	require.False(t, poster.calls[1].commit)
	require.Equal(t, 1, len(poster.calls[2].records))
	require.Equal(t, "batch-1", poster.calls[2].batch)
	require.True(t, poster.calls[2].commit)

	require.ElementsMatch(t, ids, result.Confirmed)
	require.Empty(t, result.Pending)
	require.Empty(t, result.Failed)
	require.Equal(t, int64(99999), result.LastModified)
}

func TestEnqueueDropsOversizedRecordSilently(t *testing.T) {
	ctx := context.Background()
	poster := &scriptedPoster{}
	q := NewQueue(poster, Limits{
		MaxRequestBytes:       1_000_000,
		MaxRecordPayloadBytes: 50,
		MaxPostRecords:        10,
		MaxPostBytes:          1_000_000,
		MaxTotalRecords:       1_000_000,
		MaxTotalBytes:         1_000_000,
	}, Options{})

	require.NoError(t, q.Enqueue(ctx, "huge", record("huge"))) // 100 bytes > 50-byte limit
	result, err := q.Finish(ctx)
	require.NoError(t, err)
	require.Empty(t, poster.calls)
	require.Empty(t, result.Confirmed)
}

func TestFirstFlush200WithoutBatchIDTurnsUnsupported(t *testing.T) {
	ctx := context.Background()
	poster := &scriptedPoster{
		responses: []Response{
			{StatusCode: 200, Success: []string{"a", "b"}, LastModified: 111},
			{StatusCode: 200, Success: []string{"c"}, LastModified: 222},
		},
	}
	q := NewQueue(poster, Limits{
		MaxRequestBytes: 1_000_000, MaxRecordPayloadBytes: 1_000_000,
		MaxPostRecords: 2, MaxPostBytes: 1_000_000,
		MaxTotalRecords: 1_000_000, MaxTotalBytes: 1_000_000,
	}, Options{})

	require.NoError(t, q.Enqueue(ctx, "a", record("a")))
	require.NoError(t, q.Enqueue(ctx, "b", record("b")))
	require.NoError(t, q.Enqueue(ctx, "c", record("c"))) // triggers flush of [a,b] as first flush

	result, err := q.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, poster.calls, 2)
	require.Equal(t, "true", poster.calls[0].batch)
	require.Equal(t, "", poster.calls[1].batch) // stayed unsupported: independent POST, no batch param
	require.ElementsMatch(t, []string{"a", "b", "c"}, result.Confirmed)
	require.Equal(t, int64(222), result.LastModified)
}

func TestMismatchedBatchIDIsProtocolError(t *testing.T) {
	ctx := context.Background()
	poster := &scriptedPoster{
		responses: []Response{
			{StatusCode: 202, Batch: "batch-1", Success: []string{"a"}},
			{StatusCode: 200, Batch: "some-other-batch", Success: []string{"b"}},
		},
	}
	q := NewQueue(poster, Limits{
		MaxRequestBytes: 1_000_000, MaxRecordPayloadBytes: 1_000_000,
		MaxPostRecords: 1, MaxPostBytes: 1_000_000,
		MaxTotalRecords: 1_000_000, MaxTotalBytes: 1_000_000,
	}, Options{})

	require.NoError(t, q.Enqueue(ctx, "a", record("a")))
	require.NoError(t, q.Enqueue(ctx, "b", record("b"))) // flushes [a] as first flush, opens batch-1
	_, err := q.Finish(ctx)
	require.ErrorIs(t, err, ErrProtocol)
}

func TestPartialFailureIsFatalUnlessAllowed(t *testing.T) {
	ctx := context.Background()
	poster := &scriptedPoster{
		responses: []Response{
			{StatusCode: 200, Success: []string{"a"}, Failed: map[string]string{"b": "invalid"}, LastModified: 5},
		},
	}
	q := NewQueue(poster, Limits{
		MaxRequestBytes: 1_000_000, MaxRecordPayloadBytes: 1_000_000,
		MaxPostRecords: 10, MaxPostBytes: 1_000_000,
		MaxTotalRecords: 1_000_000, MaxTotalBytes: 1_000_000,
	}, Options{})
	require.NoError(t, q.Enqueue(ctx, "a", record("a")))
	require.NoError(t, q.Enqueue(ctx, "b", record("b")))
	_, err := q.Finish(ctx)
	var failErr *ErrUploadFailed
	require.ErrorAs(t, err, &failErr)
	require.Equal(t, "invalid", failErr.Failed["b"])
}

func TestPartialFailureAllowedWhenConfigured(t *testing.T) {
	ctx := context.Background()
	poster := &scriptedPoster{
		responses: []Response{
			{StatusCode: 200, Success: []string{"a"}, Failed: map[string]string{"b": "invalid"}, LastModified: 5},
		},
	}
	q := NewQueue(poster, Limits{
		MaxRequestBytes: 1_000_000, MaxRecordPayloadBytes: 1_000_000,
		MaxPostRecords: 10, MaxPostBytes: 1_000_000,
		MaxTotalRecords: 1_000_000, MaxTotalBytes: 1_000_000,
	}, Options{AllowPartialFailure: true})
	require.NoError(t, q.Enqueue(ctx, "a", record("a")))
	require.NoError(t, q.Enqueue(ctx, "b", record("b")))
	result, err := q.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, "invalid", result.Failed["b"])
	require.ElementsMatch(t, []string{"a"}, result.Confirmed)
}
