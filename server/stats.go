package server

import (
	"net/http"

	"github.com/puzpuzpuz/xsync/v4"
)

const unmatchedRoute = "unmatched"

// stats holds process-lifetime request counters. They are observability
// only and say nothing about the state of the storage tree.
type stats struct {
	requests *xsync.Map[string, *xsync.Counter] // by route pattern
	bytesIn  *xsync.Counter                     // uploaded bytes written to disk
	bytesOut *xsync.Counter                     // file bytes streamed to clients
}

type statsResponse struct {
	Requests map[string]int64 `json:"requests"`
	BytesIn  int64            `json:"bytes_in"`
	BytesOut int64            `json:"bytes_out"`
}

func newStats() *stats {
	return &stats{
		requests: xsync.NewMap[string, *xsync.Counter](),
		bytesIn:  xsync.NewCounter(),
		bytesOut: xsync.NewCounter(),
	}
}

func (st *stats) countRequest(pattern string) {
	if pattern == "" {
		pattern = unmatchedRoute
	}
	c, ok := st.requests.Load(pattern)
	if !ok {
		c, _ = st.requests.LoadOrStore(pattern, xsync.NewCounter())
	}
	c.Inc()
}

func (st *stats) snapshot() statsResponse {
	resp := statsResponse{
		Requests: make(map[string]int64, st.requests.Size()),
		BytesIn:  st.bytesIn.Value(),
		BytesOut: st.bytesOut.Value(),
	}
	st.requests.Range(func(pattern string, c *xsync.Counter) bool {
		resp.Requests[pattern] = c.Value()
		return true
	})
	return resp
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.snapshot())
}
