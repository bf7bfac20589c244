package syncclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syncbridge/core/internal/payload"
)

func TestFetchEmptyResponseMeansNoChanges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1", r.URL.Query().Get("full"))
		require.Equal(t, "100", r.URL.Query().Get("newer"))
		w.Header().Set("X-Last-Modified", "12345")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	result, err := c.Fetch(context.Background(), "history", 100)
	require.NoError(t, err)
	require.Empty(t, result.Records)
	require.Equal(t, int64(12345), result.LastModified)
}

func TestFetchDecodesLiveAndTombstoneRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Last-Modified", "999")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"a","payload":{"histUri":"https://example.com"}},{"id":"b","deleted":true}]`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	result, err := c.Fetch(context.Background(), "history", 0)
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	require.Equal(t, "a", result.Records[0].ID)
	require.False(t, result.Records[0].Deleted)
	require.Equal(t, "b", result.Records[1].ID)
	require.True(t, result.Records[1].Deleted)
	require.Equal(t, int64(999), result.LastModified)
}

func TestPosterRoundTripsBatchAndCommitParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "batch-7", r.URL.Query().Get("batch"))
		require.Equal(t, "true", r.URL.Query().Get("commit"))
		w.Header().Set("X-Last-Modified", "42")
		fmt.Fprint(w, `{"success":["a"],"failed":{},"batch":"batch-7"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	poster := c.Poster("logins")
	rec, err := EncodeRecord(payload.Payload{ID: "a", Data: []byte(`{"hostname":"example.com"}`)})
	require.NoError(t, err)

	resp, err := poster.Post(context.Background(), [][]byte{rec}, "batch-7", true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"a"}, resp.Success)
	require.Equal(t, "batch-7", resp.Batch)
	require.Equal(t, int64(42), resp.LastModified)
}

func TestFetchNonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.Fetch(context.Background(), "bookmarks", 0)
	require.Error(t, err)
}
