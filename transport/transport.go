// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package transport realizes the three neighbor-facing operations of §6
// (Query, GetChunk, GetMetrics) as HTTP+JSON handlers, grounded on the
// teacher's cmd/snellerd server: a small "handle" middleware wrapping
// method checks and logging (helpers.go), per-operation handler methods,
// and a JSON envelope writer (writeResultResponse).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sixnode/overlay/admission"
	"github.com/sixnode/overlay/metrics"
	"github.com/sixnode/overlay/orchestrator"
	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/resultcache"
	"github.com/sixnode/overlay/topology"
	"github.com/sixnode/overlay/wire"
)

// defaultQueryTimeout is the deadline applied to a client query that
// arrives with no explicit deadline (§5: "either caller-supplied or
// derived from a default").
const defaultQueryTimeout = 30 * time.Second

// Server hosts the three wire operations for one node. It owns nothing
// itself; every dependency is injected by node.Build, mirroring the
// teacher's *server struct in cmd/snellerd/server.go.
type Server struct {
	ID     string
	Team   topology.Team
	Logger *log.Logger

	Admission    *admission.Controller
	Orchestrator *orchestrator.Orchestrator
	Cache        *resultcache.Cache
	Tracker      *metrics.Tracker

	srv http.Server
}

func (s *Server) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.New(io.Discard, "", 0)
}

// handle wraps a handler with method checking and request logging,
// following the teacher's s.handle in cmd/snellerd/helpers.go. A panic in
// the handler is recovered here and answered with status INTERNAL_ERROR.
func (s *Server) handle(h func(http.ResponseWriter, *http.Request), methods ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger().Printf("%s %s: internal error: %v", s.ID, r.URL.Path, p)
				writeJSON(w, struct {
					Status query.Status `json:"status"`
				}{Status: query.InternalError})
			}
		}()
		s.logger().Printf("%s %s: request from %s", s.ID, r.URL.Path, r.RemoteAddr)
		for _, m := range methods {
			if r.Method == m {
				h(w, r)
				return
			}
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Handler builds the node's request mux: /query, /chunk, /metrics-json
// for the three wire operations, plus /metrics for Prometheus scraping
// (SPEC_FULL.md's metrics module).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/query", s.handle(s.queryHandler, http.MethodPost))
	mux.HandleFunc("/chunk", s.handle(s.chunkHandler, http.MethodGet))
	mux.HandleFunc("/metrics-json", s.handle(s.metricsHandler, http.MethodGet))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe binds addr and serves until the process exits or Close
// is called.
func (s *Server) ListenAndServe(addr string) error {
	s.srv.Addr = addr
	s.srv.Handler = s.Handler()
	return s.srv.ListenAndServe()
}

// Close shuts the HTTP listener down.
func (s *Server) Close() error {
	return s.srv.Close()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic("transport: unable to serialize response")
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// queryHandler admits and runs one Query request (§6). Admission happens
// here, one layer above the orchestrator, per §4.9's state machine: a
// REJECTED admission never reaches HandleQuery at all.
func (s *Server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var req wire.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, wire.QueryResponse{Status: query.InternalError})
		return
	}
	cmp, err := query.ParseComparator(string(req.Comparator))
	if err != nil {
		writeJSON(w, wire.QueryResponse{Status: query.InternalError})
		return
	}

	tok, ok := s.Admission.Admit(s.Team)
	if !ok {
		s.Tracker.Rejected()
		writeJSON(w, wire.QueryResponse{Status: query.CapacityExhausted})
		return
	}
	s.Tracker.Admitted()

	var rec *query.Record
	if req.UID == "" {
		// Client omits both uid and hops (§6); the originating leader
		// assigns a fresh UID on first admission (§3).
		rec = query.NewOrigin(req.Field, cmp, req.Threshold, req.Limit)
	} else {
		rec = &query.Record{
			UID:        req.UID,
			Field:      req.Field,
			Comparator: cmp,
			Threshold:  req.Threshold,
			Limit:      req.Limit,
			Hops:       req.Hops,
		}
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	if req.DeadlineMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMs)*time.Millisecond)
	} else {
		ctx, cancel = context.WithTimeout(ctx, defaultQueryTimeout)
	}
	defer cancel()
	rec.Deadline, _ = ctx.Deadline()

	resp := s.Orchestrator.HandleQuery(ctx, rec)

	// Release on every exit path (§4.1, §8 invariant 1); the query counts
	// as completed when the orchestrator returned OK or LOOP_SUPPRESSED,
	// and as failed for any other status.
	success := resp.Status == query.OK || resp.Status == query.LoopSuppressed
	s.Admission.Release(tok)
	s.Tracker.Released(success)

	writeJSON(w, resp)
}

// chunkHandler serves one chunk of a published result (§6 GetChunk).
func (s *Server) chunkHandler(w http.ResponseWriter, r *http.Request) {
	uid := r.URL.Query().Get("uid")
	idx, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 32)
	if err != nil {
		writeJSON(w, wire.GetChunkResponse{UID: uid, Status: query.UIDUnknown})
		return
	}

	chunk, err := s.Cache.GetChunk(uid, uint32(idx))
	switch {
	case errors.Is(err, resultcache.ErrExpired):
		writeJSON(w, wire.GetChunkResponse{UID: uid, Index: uint32(idx), Status: query.UIDExpired})
		return
	case errors.Is(err, resultcache.ErrUnknown):
		writeJSON(w, wire.GetChunkResponse{UID: uid, Index: uint32(idx), Status: query.UIDUnknown})
		return
	case err != nil:
		writeJSON(w, wire.GetChunkResponse{UID: uid, Index: uint32(idx), Status: query.InternalError})
		return
	}

	data, err := wire.EncodeRows(chunk.Rows)
	if err != nil {
		writeJSON(w, wire.GetChunkResponse{UID: uid, Index: uint32(idx), Status: query.InternalError})
		return
	}
	writeJSON(w, wire.GetChunkResponse{
		UID:         chunk.UID,
		Index:       chunk.Index,
		TotalChunks: chunk.TotalChunks,
		Data:        data,
		IsLast:      chunk.IsLast,
		Status:      query.OK,
	})
}

// metricsHandler serves the structured GetMetrics operation as JSON
// (§6); /metrics above serves the same counters in Prometheus exposition
// format.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.Tracker.Snapshot()
	writeJSON(w, wire.GetMetricsResponse{
		ProcessID:       snap.ProcessID,
		Role:            snap.Role,
		Team:            snap.Team,
		ActiveRequests:  snap.ActiveRequests,
		QueueSize:       snap.QueueSize,
		AvgProcessingMs: snap.AvgProcessingMs,
		DataFilesLoaded: snap.DataFilesLoaded,
		IsHealthy:       snap.IsHealthy,
	})
}
