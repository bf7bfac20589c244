package testserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/syncclient"
	"github.com/syncbridge/core/internal/upload"
)

func TestFetchReturnsOnlyRecordsNewerThanCheckpoint(t *testing.T) {
	_, httpSrv := NewHTTPTestServer(Options{SupportsBatch: true})
	defer httpSrv.Close()

	client := syncclient.New(httpSrv.URL+"/storage", httpSrv.Client(), nil)

	rec, err := payload.Encode("p1", payload.HistoryRecord{ID: "p1", HistURI: "https://example.com"})
	require.NoError(t, err)
	wire, err := syncclient.EncodeRecord(rec)
	require.NoError(t, err)

	poster := client.Poster("history")
	resp, err := poster.Post(context.Background(), [][]byte{wire}, "", false)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	first, err := client.Fetch(context.Background(), "history", 0)
	require.NoError(t, err)
	require.Len(t, first.Records, 1)

	second, err := client.Fetch(context.Background(), "history", first.LastModified)
	require.NoError(t, err)
	require.Empty(t, second.Records)
}

func TestBatchedUploadRoundTripThroughQueue(t *testing.T) {
	srv, httpSrv := NewHTTPTestServer(Options{SupportsBatch: true})
	defer httpSrv.Close()

	client := syncclient.New(httpSrv.URL+"/storage", httpSrv.Client(), nil)
	poster := client.Poster("bookmarks")

	q := upload.NewQueue(poster, upload.Limits{
		MaxRequestBytes: 1_000_000, MaxRecordPayloadBytes: 1_000_000,
		MaxPostRecords: 2, MaxPostBytes: 1_000_000,
		MaxTotalRecords: 1_000_000, MaxTotalBytes: 1_000_000,
	}, upload.Options{})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		rec, err := payload.Encode(id, payload.BookmarkRecord{ID: id, Type: payload.BookmarkTypeBookmark})
		require.NoError(t, err)
		wire, err := syncclient.EncodeRecord(rec)
		require.NoError(t, err)
		require.NoError(t, q.Enqueue(ctx, id, wire))
	}

	result, err := q.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, result.Confirmed, 5)
	require.Empty(t, result.Failed)
	require.Len(t, srv.Records("bookmarks"), 5)
}

func TestUnsupportedBatchModeAppliesImmediately(t *testing.T) {
	srv, httpSrv := NewHTTPTestServer(Options{SupportsBatch: false})
	defer httpSrv.Close()

	client := syncclient.New(httpSrv.URL+"/storage", httpSrv.Client(), nil)
	poster := client.Poster("logins")

	rec, err := payload.Encode("l1", payload.LoginRecord{ID: "l1", Hostname: "example.com"})
	require.NoError(t, err)
	wire, err := syncclient.EncodeRecord(rec)
	require.NoError(t, err)

	resp, err := poster.Post(context.Background(), [][]byte{wire}, "true", false)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	require.Empty(t, resp.Batch)

	require.Len(t, srv.Records("logins"), 1)
}
