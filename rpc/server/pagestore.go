package server

import (
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

// pageTimeline holds the pages of one timeline
type pageTimeline struct {
	mu        sync.RWMutex
	pages     map[types.PageNumber][]byte
	latestLSN types.LSN
}

// PageStore is the in-memory page storage of the reference page server
type PageStore struct {
	timelines *xsync.MapOf[types.TimelineID, *pageTimeline]
}

// NewPageStore creates an empty page store
func NewPageStore() *PageStore {
	return &PageStore{
		timelines: xsync.NewMapOf[types.TimelineID, *pageTimeline](),
	}
}

// CreateTimeline creates a timeline and reports whether it was new
func (s *PageStore) CreateTimeline(timeline types.TimelineID) bool {
	_, loaded := s.timelines.LoadOrStore(timeline, &pageTimeline{
		pages: make(map[types.PageNumber][]byte),
	})
	return !loaded
}

// DeleteTimeline removes a timeline and reports whether it existed
func (s *PageStore) DeleteTimeline(timeline types.TimelineID) bool {
	_, loaded := s.timelines.LoadAndDelete(timeline)
	return loaded
}

// HasTimeline reports whether the timeline exists
func (s *PageStore) HasTimeline(timeline types.TimelineID) bool {
	_, ok := s.timelines.Load(timeline)
	return ok
}

// Timelines returns the number of timelines
func (s *PageStore) Timelines() int {
	return s.timelines.Size()
}

// GetPage returns the stored bytes of a page. A page that was never written is
// returned as an empty slice. ok is false if the timeline does not exist.
func (s *PageStore) GetPage(id types.PageID) (data []byte, ok bool) {
	tl, ok := s.timelines.Load(id.Timeline)
	if !ok {
		return nil, false
	}

	tl.mu.RLock()
	defer tl.mu.RUnlock()

	page := tl.pages[id.Number]
	out := make([]byte, len(page))
	copy(out, page)
	return out, true
}

// PutPage stores the page and raises the latest LSN of the timeline to lsn.
// ok is false if the timeline does not exist.
func (s *PageStore) PutPage(id types.PageID, data []byte, lsn types.LSN) (ok bool) {
	tl, ok := s.timelines.Load(id.Timeline)
	if !ok {
		return false
	}

	page := make([]byte, len(data))
	copy(page, data)

	tl.mu.Lock()
	defer tl.mu.Unlock()

	tl.pages[id.Number] = page
	if lsn > tl.latestLSN {
		tl.latestLSN = lsn
	}
	return true
}

// LatestLSN returns the latest LSN of the timeline, ok is false if it does not exist
func (s *PageStore) LatestLSN(timeline types.TimelineID) (types.LSN, bool) {
	tl, ok := s.timelines.Load(timeline)
	if !ok {
		return 0, false
	}

	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return tl.latestLSN, true
}
