// Package testserver implements an in-process, in-memory BSO-protocol HTTP
// server — a drop-in fake for internal/syncclient's fetch and batched-upload
// protocols, per spec.md §6. It exists so integration tests and the demo
// CLI can exercise a full sync round trip without a live network service,
// following the teacher's chi-based router shape (server/internal/api).
package testserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/syncbridge/core/internal/payload"
)

// storedRecord is one record or tombstone as the server holds it, with the
// modification timestamp used to answer newer= queries.
type storedRecord struct {
	ID       string
	Deleted  bool
	Data     json.RawMessage
	Modified int64
}

type pendingBatch struct {
	records []storedRecord
}

type collectionState struct {
	mu           sync.Mutex
	records      map[string]storedRecord
	lastModified int64
	batches      map[string]*pendingBatch
	clock        int64
}

func newCollectionState() *collectionState {
	return &collectionState{
		records: make(map[string]storedRecord),
		batches: make(map[string]*pendingBatch),
	}
}

// tick advances the collection's logical clock and returns the new value,
// used both as a record's Modified stamp and the collection's overall
// last-modified timestamp — avoiding a dependency on wall-clock time so
// tests get deterministic, strictly increasing timestamps.
func (c *collectionState) tick() int64 {
	c.clock++
	return c.clock
}

// Options configures a Server's protocol behavior.
type Options struct {
	Logger *zap.Logger
	// SupportsBatch false makes every upload apply immediately and respond
	// 200 with no batch id, simulating the Unsupported server mode spec.md
	// §4.4 describes.
	SupportsBatch bool
}

// Server is a drop-in fake BSO server. Construct with New, mount via
// Handler (or wrap in httptest.NewServer directly via NewHTTPTestServer).
type Server struct {
	logger        *zap.Logger
	supportsBatch bool

	mu          sync.Mutex
	collections map[string]*collectionState
	router      chi.Router
}

// New constructs a Server with no seeded collections.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		logger:        opts.Logger.Named("testserver"),
		supportsBatch: opts.SupportsBatch,
		collections:   make(map[string]*collectionState),
	}
	s.router = s.buildRouter()
	return s
}

// NewHTTPTestServer wraps New in an httptest.Server, ready for a
// syncclient.Client to point at.
func NewHTTPTestServer(opts Options) (*Server, *httptest.Server) {
	s := New(opts)
	return s, httptest.NewServer(s.Handler())
}

// Handler returns the server's http.Handler, for embedding in another
// router (the demo CLI) or passing to httptest.NewServer directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/storage/{collection}", func(r chi.Router) {
		r.Get("/", s.handleFetch)
		r.Post("/", s.handleUpload)
	})
	return r
}

func (s *Server) state(collection string) *collectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.collections[collection]
	if !ok {
		st = newCollectionState()
		s.collections[collection] = st
	}
	return st
}

// Seed installs initial server-side state for collection, as if records
// had already been uploaded at some point in the past. Intended for test
// and demo setup, not called by the protocol handlers themselves.
func (s *Server) Seed(collection string, records []payload.Payload) {
	st := s.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range records {
		ts := st.tick()
		st.records[p.ID] = storedRecord{ID: p.ID, Deleted: p.Deleted, Data: p.Data, Modified: ts}
	}
	st.lastModified = st.clock
}

// Records returns every non-deleted record currently held for collection,
// for assertions after a sync round trip.
func (s *Server) Records(collection string) []payload.Payload {
	st := s.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []payload.Payload
	for _, r := range st.records {
		if r.Deleted {
			continue
		}
		out = append(out, payload.Payload{ID: r.ID, Data: r.Data})
	}
	return out
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	newer := int64(0)
	if raw := r.URL.Query().Get("newer"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid newer param", http.StatusBadRequest)
			return
		}
		newer = v
	}

	st := s.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()

	var wire []wireRecord
	for _, rec := range st.records {
		if rec.Modified <= newer {
			continue
		}
		wire = append(wire, toWire(rec))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Last-Modified", strconv.FormatInt(st.lastModified, 10))
	if wire == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(wire)
}

type wireRecord struct {
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted,omitempty"`
	Data    json.RawMessage `json:"payload,omitempty"`
}

func toWire(r storedRecord) wireRecord {
	if r.Deleted {
		return wireRecord{ID: r.ID, Deleted: true}
	}
	return wireRecord{ID: r.ID, Data: r.Data}
}

type uploadResponse struct {
	Success []string          `json:"success"`
	Failed  map[string]string `json:"failed"`
	Batch   string            `json:"batch,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	var incoming []wireRecord
	if len(body) > 0 {
		if err := json.Unmarshal(body, &incoming); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	records := make([]storedRecord, 0, len(incoming))
	for _, w := range incoming {
		records = append(records, storedRecord{ID: w.ID, Deleted: w.Deleted, Data: w.Data})
	}

	batch := r.URL.Query().Get("batch")
	commit := r.URL.Query().Get("commit") == "true"

	st := s.state(collection)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !s.supportsBatch {
		ts := s.applyRecords(st, records)
		s.writeUpload(w, http.StatusOK, recordIDs(records), nil, "", ts)
		return
	}

	switch batch {
	case "":
		ts := s.applyRecords(st, records)
		s.writeUpload(w, http.StatusOK, recordIDs(records), nil, "", ts)
	case "true":
		id := uuid.NewString()
		st.batches[id] = &pendingBatch{records: records}
		if commit {
			all := st.batches[id].records
			delete(st.batches, id)
			ts := s.applyRecords(st, all)
			s.writeUpload(w, http.StatusOK, recordIDs(all), nil, id, ts)
			return
		}
		s.writeUpload(w, http.StatusAccepted, recordIDs(records), nil, id, 0)
	default:
		pb, ok := st.batches[batch]
		if !ok {
			http.Error(w, "unknown batch id", http.StatusBadRequest)
			return
		}
		pb.records = append(pb.records, records...)
		if commit {
			all := pb.records
			delete(st.batches, batch)
			ts := s.applyRecords(st, all)
			s.writeUpload(w, http.StatusOK, recordIDs(records), nil, batch, ts)
			return
		}
		s.writeUpload(w, http.StatusAccepted, recordIDs(records), nil, batch, 0)
	}
}

// applyRecords writes records into the collection's store, stamping each
// with a fresh tick, and returns the collection's new last-modified value.
func (s *Server) applyRecords(st *collectionState, records []storedRecord) int64 {
	for _, rec := range records {
		rec.Modified = st.tick()
		st.records[rec.ID] = rec
	}
	st.lastModified = st.clock
	return st.lastModified
}

func recordIDs(records []storedRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}

func (s *Server) writeUpload(w http.ResponseWriter, status int, success []string, failed map[string]string, batch string, lastModified int64) {
	w.Header().Set("Content-Type", "application/json")
	if lastModified > 0 {
		w.Header().Set("X-Last-Modified", strconv.FormatInt(lastModified, 10))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(uploadResponse{Success: success, Failed: failed, Batch: batch})
}
