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

// Package forwarding implements the three forwarding strategies of §4.3:
// round_robin (blocking), parallel (async), and capacity (load-sorted
// then parallel). All three operate on the eligible downstream set
// produced by the orchestrator and return one result per neighbor.
package forwarding

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/topology"
	"github.com/sixnode/overlay/wire"
)

// Caller issues one sub-query to a declared downstream neighbor. It is
// satisfied by *neighbor.Registry.
type Caller interface {
	Query(ctx context.Context, id string, q *query.Record) (wire.QueryResponse, error)
}

// LoadHinter exposes the most recently observed load factor for a
// neighbor, read opportunistically by the capacity strategy (§4.3:
// "Load hints are read from cached metrics snapshots refreshed
// opportunistically; staleness is tolerated").
type LoadHinter interface {
	LoadHint(id string) float64
}

// Target is one downstream sub-query: the neighbor to send it to (in
// declared order) and the already limit-split query record to send.
type Target struct {
	ID    string
	Query *query.Record
}

// Result is one neighbor's outcome: either a response or an error. A
// non-nil Err means the caller should treat this as an empty partial and
// record a failure marker in hops (§4.2, §7 NEIGHBOR_UNREACHABLE).
type Result struct {
	ID       string
	Response wire.QueryResponse
	Err      error
}

// Run executes targets (given in declared neighbor order) under the
// named strategy and returns one Result per target, always in that same
// declared order regardless of dispatch order or completion order (§5:
// "downstream rows appear in declared neighbor order regardless of
// completion order").
func Run(ctx context.Context, strategy topology.ForwardingStrategy, caller Caller, hinter LoadHinter, targets []Target) []Result {
	switch strategy {
	case topology.RoundRobin:
		return runSequential(ctx, caller, targets)
	case topology.Capacity:
		return runParallelOrdered(ctx, caller, targets, sortByLoad(hinter, targets))
	case topology.Parallel:
		return runParallelOrdered(ctx, caller, targets, targets)
	default:
		return runSequential(ctx, caller, targets)
	}
}

// runSequential issues each sub-query and awaits its reply before moving
// to the next (§4.3 round_robin).
func runSequential(ctx context.Context, caller Caller, targets []Target) []Result {
	out := make([]Result, len(targets))
	for i, t := range targets {
		resp, err := caller.Query(ctx, t.ID, t.Query)
		out[i] = Result{ID: t.ID, Response: resp, Err: err}
	}
	return out
}

// runParallelOrdered issues dispatchOrder's sub-queries concurrently
// (§4.3 parallel/capacity) and waits for all to finish, but always
// returns results positioned according to declaredOrder (§5 order
// determinism) regardless of the order calls were dispatched in or
// completed in.
func runParallelOrdered(ctx context.Context, caller Caller, declaredOrder, dispatchOrder []Target) []Result {
	byID := make(map[string]Result, len(dispatchOrder))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, t := range dispatchOrder {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			resp, err := caller.Query(ctx, t.ID, t.Query)
			mu.Lock()
			byID[t.ID] = Result{ID: t.ID, Response: resp, Err: err}
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	out := make([]Result, len(declaredOrder))
	for i, t := range declaredOrder {
		out[i] = byID[t.ID]
	}
	return out
}

// rankedTarget pairs a Target with its declared index, so the tie-break
// below can compare positions explicitly instead of relying on SortFunc's
// stability (x/exp/slices.SortFunc does not guarantee it).
type rankedTarget struct {
	Target
	declaredIndex int
}

// sortByLoad returns targets sorted by ascending load factor, ties broken
// by original (declared) order, per §4.3's capacity strategy. The
// original slice is not mutated.
func sortByLoad(hinter LoadHinter, targets []Target) []Target {
	loadOf := func(id string) float64 {
		if hinter == nil {
			return 0
		}
		return hinter.LoadHint(id)
	}

	ranked := make([]rankedTarget, len(targets))
	for i, t := range targets {
		ranked[i] = rankedTarget{Target: t, declaredIndex: i}
	}
	slices.SortFunc(ranked, func(a, b rankedTarget) bool {
		la, lb := loadOf(a.ID), loadOf(b.ID)
		if la != lb {
			return la < lb
		}
		return a.declaredIndex < b.declaredIndex
	})

	sorted := make([]Target, len(ranked))
	for i, r := range ranked {
		sorted[i] = r.Target
	}
	return sorted
}
