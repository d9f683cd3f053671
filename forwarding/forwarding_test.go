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

package forwarding

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/topology"
	"github.com/sixnode/overlay/wire"
)

// recordingCaller serializes calls in arrival order (for round_robin
// ordering assertions) and can simulate per-neighbor latency.
type recordingCaller struct {
	mu      sync.Mutex
	order   []string
	delay   map[string]time.Duration
	failure map[string]bool
}

func (c *recordingCaller) Query(ctx context.Context, id string, q *query.Record) (wire.QueryResponse, error) {
	c.mu.Lock()
	c.order = append(c.order, id)
	c.mu.Unlock()
	if d := c.delay[id]; d > 0 {
		time.Sleep(d)
	}
	if c.failure[id] {
		return wire.QueryResponse{}, fmt.Errorf("simulated failure for %s", id)
	}
	return wire.QueryResponse{UID: q.UID, TotalRecords: 1, Status: query.OK}, nil
}

func targets(ids ...string) []Target {
	var out []Target
	for _, id := range ids {
		out = append(out, Target{ID: id, Query: &query.Record{UID: "u1"}})
	}
	return out
}

func TestRoundRobinIsStrictlySequential(t *testing.T) {
	c := &recordingCaller{delay: map[string]time.Duration{"C": 20 * time.Millisecond}}
	results := Run(context.Background(), topology.RoundRobin, c, nil, targets("C", "D"))
	if len(c.order) != 2 || c.order[0] != "C" || c.order[1] != "D" {
		t.Fatalf("expected sequential dispatch [C D], got %v", c.order)
	}
	if len(results) != 2 || results[0].ID != "C" || results[1].ID != "D" {
		t.Fatalf("expected results in declared order, got %+v", results)
	}
}

func TestParallelPreservesDeclaredOrderRegardlessOfCompletion(t *testing.T) {
	c := &recordingCaller{delay: map[string]time.Duration{"D": 30 * time.Millisecond}}
	results := Run(context.Background(), topology.Parallel, c, nil, targets("D", "F"))
	if results[0].ID != "D" || results[1].ID != "F" {
		t.Fatalf("expected declared order [D F] regardless of completion order, got %+v", results)
	}
}

func TestParallelRecordsFailureAsError(t *testing.T) {
	c := &recordingCaller{failure: map[string]bool{"F": true}}
	results := Run(context.Background(), topology.Parallel, c, nil, targets("D", "F"))
	if results[1].Err == nil {
		t.Fatal("expected F's failure to surface as an error result")
	}
	if results[0].Err != nil {
		t.Fatalf("expected D to succeed, got %v", results[0].Err)
	}
}

type fakeHinter map[string]float64

func (f fakeHinter) LoadHint(id string) float64 { return f[id] }

func TestCapacityDispatchesLeastLoadedFirstButReturnsDeclaredOrder(t *testing.T) {
	c := &recordingCaller{}
	hints := fakeHinter{"D": 0.9, "F": 0.1}
	// Calls are issued on separate goroutines, so the recorder's arrival
	// order is not the dispatch order; check the order sortByLoad hands to
	// the dispatcher instead.
	dispatch := sortByLoad(hints, targets("D", "F"))
	if dispatch[0].ID != "F" {
		t.Fatalf("expected least-loaded F dispatched first, got dispatch order %+v", dispatch)
	}
	results := Run(context.Background(), topology.Capacity, c, hints, targets("D", "F"))
	if results[0].ID != "D" || results[1].ID != "F" {
		t.Fatalf("expected results still in declared order [D F], got %+v", results)
	}
}

func TestCapacityTieBreaksByDeclaredOrder(t *testing.T) {
	hints := fakeHinter{"D": 0.5, "F": 0.5}
	dispatch := sortByLoad(hints, targets("D", "F"))
	if dispatch[0].ID != "D" {
		t.Fatalf("expected tie to break by declared order (D first), got %+v", dispatch)
	}
}
