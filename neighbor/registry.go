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

package neighbor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/wire"
)

// defaultCallTimeout bounds a single neighbor call when the query carries
// no deadline.
const defaultCallTimeout = 10 * time.Second

// Registry lazily opens and reuses one transport channel per declared
// neighbor (§4.5). Go's http.Transport connection pool gives the
// "one long-lived channel, reused" behavior without extra bookkeeping:
// the registry only needs to memoize one *httpClient per neighbor id.
type Registry struct {
	mu      sync.Mutex
	clients map[string]*httpClient
}

// NewRegistry builds a registry over the given neighbor id -> base URL
// endpoints.
func NewRegistry(endpoints map[string]string) *Registry {
	r := &Registry{clients: make(map[string]*httpClient, len(endpoints))}
	for id, base := range endpoints {
		r.clients[id] = newHTTPClient("http://"+base, &http.Client{})
	}
	return r
}

func (r *Registry) client(id string) (*httpClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("neighbor: no registered endpoint for %s", id)
	}
	return c, nil
}

// callDeadline derives the per-call deadline from the query's deadline
// (§4.5), falling back to defaultCallTimeout when the query carries none.
func callDeadline(ctx context.Context, q *query.Record) (context.Context, context.CancelFunc) {
	if !q.Deadline.IsZero() {
		return context.WithDeadline(ctx, q.Deadline)
	}
	return context.WithTimeout(ctx, defaultCallTimeout)
}

// Query forwards q to neighbor id, with one transparent retry on
// transport error before surfacing NEIGHBOR_UNREACHABLE (§4.5, §7).
func (r *Registry) Query(ctx context.Context, id string, q *query.Record) (wire.QueryResponse, error) {
	c, err := r.client(id)
	if err != nil {
		return wire.QueryResponse{}, err
	}
	req := wire.QueryRequest{
		Field:      q.Field,
		Comparator: q.Comparator,
		Threshold:  q.Threshold,
		Limit:      q.Limit,
		UID:        q.UID,
		Hops:       q.Hops,
	}
	if !q.Deadline.IsZero() {
		req.DeadlineMs = time.Until(q.Deadline).Milliseconds()
	}

	cctx, cancel := callDeadline(ctx, q)
	defer cancel()
	resp, err := c.Query(cctx, req)
	if err == nil {
		return resp, nil
	}
	// one transparent retry
	cctx2, cancel2 := callDeadline(ctx, q)
	defer cancel2()
	resp, err = c.Query(cctx2, req)
	if err != nil {
		return wire.QueryResponse{}, fmt.Errorf("neighbor %s unreachable: %w", id, err)
	}
	return resp, nil
}

// GetChunk fetches a chunk from neighbor id, with the same single
// transparent retry as Query. The orchestrator uses it to pull a
// downstream node's published rows back after a successful sub-query.
func (r *Registry) GetChunk(ctx context.Context, id string, req wire.GetChunkRequest) (wire.GetChunkResponse, error) {
	c, err := r.client(id)
	if err != nil {
		return wire.GetChunkResponse{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	resp, err := c.GetChunk(cctx, req)
	if err == nil {
		return resp, nil
	}
	cctx2, cancel2 := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel2()
	resp, err = c.GetChunk(cctx2, req)
	if err != nil {
		return wire.GetChunkResponse{}, fmt.Errorf("neighbor %s unreachable: %w", id, err)
	}
	return resp, nil
}

// GetMetrics fetches a load hint from neighbor id, used opportunistically
// by the capacity forwarding strategy (§4.3). Staleness is tolerated, so
// failures here are non-fatal; callers should treat an error as "no
// fresher hint available."
func (r *Registry) GetMetrics(ctx context.Context, id string) (wire.GetMetricsResponse, error) {
	c, err := r.client(id)
	if err != nil {
		return wire.GetMetricsResponse{}, err
	}
	cctx, cancel := context.WithTimeout(ctx, defaultCallTimeout)
	defer cancel()
	return c.GetMetrics(cctx)
}

// GetMetricsHint is GetMetrics narrowed to the single number the capacity
// forwarding strategy sorts by (§4.3), satisfying orchestrator.Caller.
func (r *Registry) GetMetricsHint(ctx context.Context, id string) (float64, error) {
	resp, err := r.GetMetrics(ctx, id)
	if err != nil {
		return 0, err
	}
	return float64(resp.ActiveRequests), nil
}
