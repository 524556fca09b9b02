package server

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	transporthttp "github.com/ValentinKolb/dStor/rpc/transport/http"
	"github.com/VictoriaMetrics/metrics"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
)

// PageServer is the in-memory reference page server. It serves
//
//	GET    /health                  liveness check
//	GET    /page/{timeline}/{page}  page contents (200, possibly shorter than a page)
//	PUT    /page/{timeline}/{page}  store a page, optional ?lsn= raises the latest lsn
//	POST   /timeline/{timeline}     create (201, 409 if it exists)
//	GET    /timeline/{timeline}     {"timeline_id", "latest_lsn"}
//	DELETE /timeline/{timeline}     delete (204, 404 if missing)
//	GET    /metrics                 prometheus text format
type PageServer struct {
	config  common.ServerConfig
	store   *PageStore
	server  *transporthttp.Server
	metrics *metrics.Set
	healthy atomic.Bool

	pageReads   *metrics.Counter
	pageWrites  *metrics.Counter
	pageMisses  *metrics.Counter
	healthCalls *metrics.Counter
}

// NewPageServer binds config.PageServerEndpoint and prepares the routes. Call Serve to start.
func NewPageServer(config common.ServerConfig) (*PageServer, error) {
	s := &PageServer{
		config:  config,
		store:   NewPageStore(),
		metrics: metrics.NewSet(),
	}
	s.healthy.Store(true)

	s.pageReads = s.metrics.NewCounter(`dstor_pageserver_requests_total{op="read"}`)
	s.pageWrites = s.metrics.NewCounter(`dstor_pageserver_requests_total{op="write"}`)
	s.pageMisses = s.metrics.NewCounter(`dstor_pageserver_page_misses_total`)
	s.healthCalls = s.metrics.NewCounter(`dstor_pageserver_health_checks_total`)
	s.metrics.NewGauge(`dstor_pageserver_timelines`, func() float64 {
		return float64(s.store.Timelines())
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /page/{timeline}/{page}", s.handleGetPage)
	mux.HandleFunc("PUT /page/{timeline}/{page}", s.handlePutPage)
	mux.HandleFunc("POST /timeline/{timeline}", s.handleCreateTimeline)
	mux.HandleFunc("GET /timeline/{timeline}", s.handleTimelineInfo)
	mux.HandleFunc("DELETE /timeline/{timeline}", s.handleDeleteTimeline)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.WritePrometheus(w)
	})

	srv, err := transporthttp.NewServer(config.PageServerEndpoint, mux, config.LogLevel == "debug")
	if err != nil {
		return nil, fmt.Errorf("failed to bind page server: %v", err)
	}
	s.server = srv

	return s, nil
}

// Serve blocks until Close is called
func (s *PageServer) Serve() error {
	Logger.Infof("Starting page server on %s", s.server.Addr())
	return s.server.Serve()
}

// Addr returns the bound address
func (s *PageServer) Addr() net.Addr {
	return s.server.Addr()
}

// URL returns the base url clients use to reach the server
func (s *PageServer) URL() string {
	return "http://" + s.server.Addr().String()
}

// Store returns the backing page store
func (s *PageServer) Store() *PageStore {
	return s.store
}

// SetHealthy switches the answer of the health endpoint (503 when unhealthy)
func (s *PageServer) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// Close stops the server
func (s *PageServer) Close() error {
	return s.server.Close()
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (s *PageServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.healthCalls.Inc()
	if !s.healthy.Load() {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *PageServer) handleGetPage(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePageID(w, r)
	if !ok {
		return
	}
	s.pageReads.Inc()

	data, ok := s.store.GetPage(id)
	if !ok {
		s.pageMisses.Inc()
		http.Error(w, "timeline not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		Logger.Warningf("Failed to write page %s: %v", id, err)
	}
}

func (s *PageServer) handlePutPage(w http.ResponseWriter, r *http.Request) {
	id, ok := parsePageID(w, r)
	if !ok {
		return
	}
	s.pageWrites.Inc()

	var lsn uint64
	if raw := r.URL.Query().Get("lsn"); raw != "" {
		var err error
		if lsn, err = strconv.ParseUint(raw, 10, 64); err != nil {
			http.Error(w, "invalid lsn", http.StatusBadRequest)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, types.PageSize+1))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	if len(body) > types.PageSize {
		http.Error(w, "page too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !s.store.PutPage(id, body, types.LSN(lsn)) {
		http.Error(w, "timeline not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *PageServer) handleCreateTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, ok := parseTimeline(w, r)
	if !ok {
		return
	}
	if !s.store.CreateTimeline(timeline) {
		http.Error(w, "timeline exists", http.StatusConflict)
		return
	}
	Logger.Infof("Created timeline %s", timeline)
	w.WriteHeader(http.StatusCreated)
}

func (s *PageServer) handleTimelineInfo(w http.ResponseWriter, r *http.Request) {
	timeline, ok := parseTimeline(w, r)
	if !ok {
		return
	}
	lsn, ok := s.store.LatestLSN(timeline)
	if !ok {
		http.Error(w, "timeline not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(common.TimelineInfo{
		TimelineID: uint64(timeline),
		LatestLSN:  uint64(lsn),
	}); err != nil {
		Logger.Warningf("Failed to write timeline info: %v", err)
	}
}

func (s *PageServer) handleDeleteTimeline(w http.ResponseWriter, r *http.Request) {
	timeline, ok := parseTimeline(w, r)
	if !ok {
		return
	}
	if !s.store.DeleteTimeline(timeline) {
		http.Error(w, "timeline not found", http.StatusNotFound)
		return
	}
	Logger.Infof("Deleted timeline %s", timeline)
	w.WriteHeader(http.StatusNoContent)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func parseTimeline(w http.ResponseWriter, r *http.Request) (types.TimelineID, bool) {
	timeline, err := strconv.ParseUint(r.PathValue("timeline"), 10, 64)
	if err != nil {
		http.Error(w, "invalid timeline id", http.StatusBadRequest)
		return 0, false
	}
	return types.TimelineID(timeline), true
}

func parsePageID(w http.ResponseWriter, r *http.Request) (types.PageID, bool) {
	timeline, ok := parseTimeline(w, r)
	if !ok {
		return types.PageID{}, false
	}
	page, err := strconv.ParseUint(r.PathValue("page"), 10, 32)
	if err != nil {
		http.Error(w, "invalid page number", http.StatusBadRequest)
		return types.PageID{}, false
	}
	return types.PageID{Timeline: timeline, Number: types.PageNumber(page)}, true
}
