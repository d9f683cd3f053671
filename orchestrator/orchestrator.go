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

// Package orchestrator implements the query orchestration layer of §4.2:
// the seven-step handle_query contract and the state machine of §4.9.
package orchestrator

import (
	"context"
	"time"

	"github.com/sixnode/overlay/forwarding"
	"github.com/sixnode/overlay/metrics"
	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/resultcache"
	"github.com/sixnode/overlay/store"
	"github.com/sixnode/overlay/topology"
	"github.com/sixnode/overlay/wire"
)

// Caller is what the orchestrator needs from the neighbor registry: issue
// a sub-query, fetch a downstream node's published chunks back, and
// opportunistically read a load hint for the capacity strategy.
type Caller interface {
	forwarding.Caller
	GetChunk(ctx context.Context, id string, req wire.GetChunkRequest) (wire.GetChunkResponse, error)
	GetMetricsHint(ctx context.Context, id string) (float64, error)
}

// Orchestrator executes queries for one node end to end (§4.2).
type Orchestrator struct {
	ID         string
	Role       topology.Role
	Team       topology.Team
	Topology   *topology.Config
	Store      *store.Store
	Cache      *resultcache.Cache
	Caller     Caller
	Tracker    *metrics.Tracker
	Strategies topology.Strategies
	BaseChunk  uint
	TTL        time.Duration

	hints *loadHints
}

// Ensure hints is initialized; cheap and idempotent, avoids requiring
// callers to use a constructor.
func (o *Orchestrator) ensureHints() *loadHints {
	if o.hints == nil {
		o.hints = newLoadHints()
	}
	return o.hints
}

// HandleQuery runs the seven-step contract of §4.2 for one query record
// already admitted at this node (admission happens one layer up, in
// transport). The returned response is always well-formed: a status plus
// whatever metadata is appropriate for that status.
func (o *Orchestrator) HandleQuery(ctx context.Context, q *query.Record) wire.QueryResponse {
	start := time.Now()

	// Step 1: loop check.
	if q.HasVisited(o.ID) {
		return wire.QueryResponse{
			UID:    q.UID,
			Hops:   q.Hops,
			Status: query.LoopSuppressed,
		}
	}
	self := q.AppendSelf(o.ID)

	// Step 2: local scan.
	var localRows []query.Row
	if o.Store != nil {
		scanStart := time.Now()
		localRows = o.Store.Scan(self.Field, self.Comparator, self.Threshold, self.Limit)
		if o.Tracker != nil {
			o.Tracker.ObserveScan(time.Since(scanStart))
		}
	}

	// Step 3: downstream selection.
	downstream, err := o.Topology.Downstream(o.ID)
	if err != nil {
		return wire.QueryResponse{UID: self.UID, Hops: self.Hops, Status: query.InternalError}
	}
	var eligible []topology.NodeConfig
	for _, n := range downstream {
		if !self.HasVisited(n.ID) {
			eligible = append(eligible, n)
		}
	}

	// Step 4: limit splitting.
	targets := make([]forwarding.Target, 0, len(eligible))
	shares := splitLimit(self.Limit, len(eligible))
	for i, n := range eligible {
		targets = append(targets, forwarding.Target{ID: n.ID, Query: self.WithLimit(shares[i])})
	}

	// Step 5: forwarding.
	hints := o.ensureHints()
	if o.Strategies.Forwarding == topology.Capacity {
		hints.refresh(ctx, o.Caller, eligible)
	}
	results := forwarding.Run(ctx, o.Strategies.Forwarding, o.Caller, hints, targets)

	// hops accumulates the full trace across the whole subtree rooted at
	// this node: self's own chain, then — per downstream target, in
	// declaration order — whatever that child's own subtree appended
	// beyond the chain this node sent it (§4.2 step 1 composed
	// recursively; verified against the worked example's full-tree
	// trace in §... where a branching fan-out's hops is the
	// concatenation of each branch's novel suffix, not just the direct
	// children's ids).
	hops := self.Hops
	base := len(self.Hops)
	var downstreamRows [][]query.Row
	for _, r := range results {
		if r.Err != nil {
			// §4.2: a downstream failure does not fail the query; record
			// a marker in the hops trace and proceed with zero rows.
			hops = append(hops, query.MarkUnreachable(r.ID))
			downstreamRows = append(downstreamRows, nil)
			continue
		}
		if r.Response.Status != query.OK {
			// §4.2: exhausted admission (or any other non-OK downstream
			// status) is treated as a partial result of zero rows. A
			// rejected neighbor never accepted the query, so it leaves no
			// hops trace at all.
			downstreamRows = append(downstreamRows, nil)
			continue
		}
		if len(r.Response.Hops) > base {
			hops = append(hops, r.Response.Hops[base:]...)
		}
		rows, ferr := fetchAllRows(ctx, o.Caller, r.ID, r.Response)
		if ferr != nil {
			hops = append(hops, query.MarkUnreachable(r.ID))
			downstreamRows = append(downstreamRows, nil)
			continue
		}
		downstreamRows = append(downstreamRows, rows)
	}

	// Step 6: merge — local first, then downstream in declaration order.
	merged := make([]query.Row, 0, len(localRows))
	merged = append(merged, localRows...)
	for _, rows := range downstreamRows {
		merged = append(merged, rows...)
	}
	if uint32(len(merged)) > self.Limit {
		merged = merged[:self.Limit]
	}

	// Step 7: chunk and publish.
	chunkSize := resultcache.ChunkSize(o.Strategies.Chunking, len(merged), o.BaseChunk, self.Limit)
	totalChunks := resultcache.TotalChunks(len(merged), chunkSize)
	o.Cache.Put(&resultcache.Result{
		UID:         self.UID,
		Rows:        merged,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		TTL:         o.TTL,
		Hops:        hops,
	})

	if o.Tracker != nil {
		o.Tracker.ObserveEndToEnd(time.Since(start))
	}

	return wire.QueryResponse{
		UID:          self.UID,
		TotalChunks:  totalChunks,
		TotalRecords: uint32(len(merged)),
		Hops:         hops,
		Status:       query.OK,
	}
}

// fetchAllRows pulls every chunk of a downstream node's published result
// back across the wire and reassembles it (the Query response only
// carries metadata; rows travel via GetChunk, per §6).
func fetchAllRows(ctx context.Context, caller Caller, id string, resp wire.QueryResponse) ([]query.Row, error) {
	var out []query.Row
	for i := uint32(0); i < resp.TotalChunks; i++ {
		chunkResp, err := caller.GetChunk(ctx, id, wire.GetChunkRequest{UID: resp.UID, Index: i})
		if err != nil {
			return nil, err
		}
		if chunkResp.Status != query.OK {
			return nil, nil // a raced eviction degrades to empty, not an error
		}
		rows, err := wire.DecodeRows(chunkResp.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// splitLimit partitions limit across n targets, equal shares with any
// remainder assigned in declaration order (§4.2 step 4).
func splitLimit(limit uint32, n int) []uint32 {
	if n == 0 {
		return nil
	}
	share := limit / uint32(n)
	remainder := limit % uint32(n)
	out := make([]uint32, n)
	for i := range out {
		out[i] = share
		if uint32(i) < remainder {
			out[i]++
		}
	}
	return out
}
