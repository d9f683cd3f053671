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

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sixnode/overlay/topology"
)

// loadHints caches each neighbor's most recently observed active-request
// count for the capacity forwarding strategy (§4.3). This process treats
// the six overlay nodes as homogeneously provisioned, so active_requests
// alone is used as the sort key in place of active_requests/max_capacity
// (the topology document does not carry a per-neighbor capacity figure —
// see DESIGN.md). Staleness is explicitly tolerated by §4.3.
type loadHints struct {
	mu    sync.Mutex
	value map[string]float64
}

func newLoadHints() *loadHints {
	return &loadHints{value: make(map[string]float64)}
}

func (h *loadHints) LoadHint(id string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value[id]
}

// refresh queries each candidate neighbor's GetMetrics concurrently, with
// a short shared budget. The caller waits for the refresh, but never
// longer than that budget: a neighbor that doesn't answer in time just
// keeps its last known (or zero) hint.
func (h *loadHints) refresh(ctx context.Context, caller Caller, neighbors []topology.NodeConfig) {
	const refreshBudget = 150 * time.Millisecond
	cctx, cancel := context.WithTimeout(ctx, refreshBudget)
	defer cancel()

	var wg sync.WaitGroup
	for _, n := range neighbors {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			v, err := caller.GetMetricsHint(cctx, id)
			if err != nil {
				return
			}
			h.mu.Lock()
			h.value[id] = v
			h.mu.Unlock()
		}(n.ID)
	}
	wg.Wait()
}
