// Package syncclient implements the collection fetch and batched-upload
// HTTP protocols against any http.Client, per spec.md §6. It has no
// knowledge of collections beyond the wire Payload envelope — callers
// decode payload.Data into the per-collection record shape themselves.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/syncbridge/core/internal/payload"
	"github.com/syncbridge/core/internal/upload"
)

// wireRecord is the on-the-wire shape of one fetched or posted record: a
// live record carries Data as the embedding app's encrypted envelope (left
// opaque here, matching spec.md §6's "crypto envelope ... out of scope");
// a tombstone carries Deleted instead.
type wireRecord struct {
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted,omitempty"`
	Data    json.RawMessage `json:"payload,omitempty"`
}

func toWire(p payload.Payload) wireRecord {
	if p.Deleted {
		return wireRecord{ID: p.ID, Deleted: true}
	}
	return wireRecord{ID: p.ID, Data: p.Data}
}

func fromWire(w wireRecord) payload.Payload {
	if w.Deleted {
		return payload.Tombstone(w.ID)
	}
	return payload.Payload{ID: w.ID, Data: w.Data}
}

// Client talks to one BSO-style server over a base URL (e.g.
// "https://sync.example.com/storage"). Each collection fetch/upload call
// names the collection as a path segment, per spec.md §6's
// `GET /storage/<collection>?full=1&newer=<last-sync>`.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// New constructs a Client. httpClient may be nil, in which case
// http.DefaultClient is used.
func New(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger.Named("syncclient")}
}

// FetchResult is the outcome of one collection fetch.
type FetchResult struct {
	Records      []payload.Payload
	LastModified int64
}

// Fetch implements `GET /storage/<collection>?full=1&newer=<newer>`. An
// empty response body means no changes since newer, per spec.md §6.
func (c *Client) Fetch(ctx context.Context, collection string, newer int64) (FetchResult, error) {
	u := fmt.Sprintf("%s/%s", c.baseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return FetchResult{}, err
	}
	q := url.Values{}
	q.Set("full", "1")
	q.Set("newer", strconv.FormatInt(newer, 10))
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, fmt.Errorf("syncclient: fetch %s: %w", collection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, fmt.Errorf("syncclient: reading fetch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, fmt.Errorf("syncclient: fetch %s: unexpected status %d", collection, resp.StatusCode)
	}

	lastModified, err := parseLastModified(resp)
	if err != nil {
		return FetchResult{}, err
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return FetchResult{LastModified: lastModified}, nil
	}

	var wire []wireRecord
	if err := json.Unmarshal(body, &wire); err != nil {
		return FetchResult{}, fmt.Errorf("syncclient: decoding fetch response: %w", err)
	}
	records := make([]payload.Payload, 0, len(wire))
	for _, w := range wire {
		records = append(records, fromWire(w))
	}
	return FetchResult{Records: records, LastModified: lastModified}, nil
}

func parseLastModified(resp *http.Response) (int64, error) {
	raw := resp.Header.Get("X-Last-Modified")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("syncclient: malformed X-Last-Modified header %q: %w", raw, err)
	}
	return v, nil
}

// Poster adapts Client to upload.Poster for one collection, so
// upload.Queue can drive it directly.
type Poster struct {
	client     *Client
	collection string
}

// Poster returns an upload.Poster bound to collection, for constructing an
// upload.Queue against this client.
func (c *Client) Poster(collection string) upload.Poster {
	return &Poster{client: c, collection: collection}
}

// Post implements upload.Poster: POST /storage/<collection>?batch=<batch>
// [&commit=true], body a JSON array of {id, deleted?, payload?} records.
func (p *Poster) Post(ctx context.Context, records [][]byte, batch string, commit bool) (upload.Response, error) {
	body, err := encodeBatch(records)
	if err != nil {
		return upload.Response{}, err
	}

	u := fmt.Sprintf("%s/%s", p.client.baseURL, p.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return upload.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	q := url.Values{}
	if batch != "" {
		q.Set("batch", batch)
	}
	if commit {
		q.Set("commit", "true")
	}
	req.URL.RawQuery = q.Encode()

	resp, err := p.client.httpClient.Do(req)
	if err != nil {
		return upload.Response{}, fmt.Errorf("syncclient: upload %s: %w", p.collection, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upload.Response{}, fmt.Errorf("syncclient: reading upload response: %w", err)
	}

	var decoded struct {
		Success []string          `json:"success"`
		Failed  map[string]string `json:"failed"`
		Batch   string            `json:"batch"`
	}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return upload.Response{}, fmt.Errorf("syncclient: decoding upload response: %w", err)
		}
	}

	lastModified, err := parseLastModified(resp)
	if err != nil {
		return upload.Response{}, err
	}

	return upload.Response{
		StatusCode:   resp.StatusCode,
		Success:      decoded.Success,
		Failed:       decoded.Failed,
		Batch:        decoded.Batch,
		LastModified: lastModified,
	}, nil
}

// encodeBatch serializes each already-JSON-encoded record into a single
// JSON array without re-marshaling record bodies.
func encodeBatch(records [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// EncodeRecord serializes p to the wire record shape upload.Queue.Enqueue
// expects as the rec argument.
func EncodeRecord(p payload.Payload) ([]byte, error) {
	return json.Marshal(toWire(p))
}
