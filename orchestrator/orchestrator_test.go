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
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sixnode/overlay/metrics"
	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/resultcache"
	"github.com/sixnode/overlay/store"
	"github.com/sixnode/overlay/topology"
	"github.com/sixnode/overlay/wire"
)

// network wires a handful of real *Orchestrators together in-process, so
// that a fan-out from A genuinely recurses through B/E into their own
// workers, without any real transport — following the teacher's
// server_test.go pattern of faking the peer list rather than mocking a
// single interface boundary.
type network struct {
	nodes map[string]*Orchestrator
	fail  map[string]bool // simulated NEIGHBOR_UNREACHABLE
}

func (n *network) Query(ctx context.Context, id string, q *query.Record) (wire.QueryResponse, error) {
	if n.fail[id] {
		return wire.QueryResponse{}, fmt.Errorf("simulated network failure for %s", id)
	}
	o, ok := n.nodes[id]
	if !ok {
		return wire.QueryResponse{}, fmt.Errorf("no such node %s", id)
	}
	return o.HandleQuery(ctx, q), nil
}

func (n *network) GetChunk(ctx context.Context, id string, req wire.GetChunkRequest) (wire.GetChunkResponse, error) {
	o, ok := n.nodes[id]
	if !ok {
		return wire.GetChunkResponse{}, fmt.Errorf("no such node %s", id)
	}
	ch, err := o.Cache.GetChunk(req.UID, req.Index)
	if err != nil {
		return wire.GetChunkResponse{Status: query.UIDUnknown}, nil
	}
	data, err := wire.EncodeRows(ch.Rows)
	if err != nil {
		return wire.GetChunkResponse{}, err
	}
	return wire.GetChunkResponse{UID: ch.UID, Index: ch.Index, TotalChunks: ch.TotalChunks, Data: data, IsLast: ch.IsLast, Status: query.OK}, nil
}

func (n *network) GetMetricsHint(ctx context.Context, id string) (float64, error) { return 0, nil }

func loadTestTopology(t *testing.T) *topology.Config {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "testdata", "topology.yaml"))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	cfg, err := topology.Parse(data)
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}
	return cfg
}

func rowsAbove(vals ...float64) []query.Row {
	out := make([]query.Row, len(vals))
	for i, v := range vals {
		out[i] = query.Row{Fields: map[string]float64{"PM2.5": v}}
	}
	return out
}

type fakeLoader struct{ rows []query.Row }

func (f fakeLoader) Load(topology.DateBounds) ([]query.Row, error) { return f.rows, nil }

// buildNetwork constructs all six nodes' orchestrators sharing one
// *network dispatcher, with worker shard rows supplied by the caller.
func buildNetwork(t *testing.T, strategies topology.Strategies, cRows, dRows, fRows []query.Row) *network {
	t.Helper()
	cfg := loadTestTopology(t)
	net := &network{nodes: map[string]*Orchestrator{}, fail: map[string]bool{}}

	newStore := func(rows []query.Row, isWorker bool) *store.Store {
		var bounds *topology.DateBounds
		if isWorker {
			bounds = &topology.DateBounds{Start: "a", End: "b"}
		}
		s, err := store.New(fakeLoader{rows: rows}, bounds)
		if err != nil {
			t.Fatalf("store.New: %v", err)
		}
		return s
	}

	mk := func(id string, role topology.Role, team topology.Team, rows []query.Row) *Orchestrator {
		return &Orchestrator{
			ID: id, Role: role, Team: team, Topology: cfg,
			Store: newStore(rows, role == topology.Worker), Cache: resultcache.New(0), Caller: net,
			Tracker: metrics.New(id, string(role), string(team), nil),
			Strategies: strategies, BaseChunk: 200, TTL: time.Minute,
		}
	}

	net.nodes["A"] = mk("A", topology.Leader, topology.Green, nil)
	net.nodes["B"] = mk("B", topology.TeamLeader, topology.Green, nil)
	net.nodes["C"] = mk("C", topology.Worker, topology.Green, cRows)
	net.nodes["E"] = mk("E", topology.TeamLeader, topology.Pink, nil)
	net.nodes["D"] = mk("D", topology.Worker, topology.Pink, dRows)
	net.nodes["F"] = mk("F", topology.Worker, topology.Pink, fRows)
	return net
}

func TestBaselineHappyPath(t *testing.T) {
	strategies := topology.Strategies{Forwarding: topology.RoundRobin, Chunking: topology.Fixed, ChunkSize: 200}
	net := buildNetwork(t, strategies, rowsAbove(40, 50), rowsAbove(60), rowsAbove(70, 80))

	q := query.NewOrigin("PM2.5", query.GT, 35, 5)
	resp := net.nodes["A"].HandleQuery(context.Background(), q)

	if resp.Status != query.OK {
		t.Fatalf("status = %s, want OK", resp.Status)
	}
	if resp.TotalRecords > 5 {
		t.Fatalf("total_records = %d, want <= 5", resp.TotalRecords)
	}
	if resp.TotalChunks != 1 {
		t.Fatalf("total_chunks = %d, want 1", resp.TotalChunks)
	}
	want := []string{"A", "B", "C", "E", "D", "F"}
	if len(resp.Hops) != len(want) {
		t.Fatalf("hops = %v, want permutation-prefix of %v", resp.Hops, want)
	}
	seen := map[string]bool{}
	for _, h := range resp.Hops {
		seen[h] = true
	}
	for _, w := range want {
		if !seen[w] {
			t.Fatalf("expected %s in hops, got %v", w, resp.Hops)
		}
	}
	if resp.Hops[0] != "A" || resp.Hops[1] != "B" {
		t.Fatalf("expected parent-before-child with A then B, got %v", resp.Hops)
	}
}

func TestLoopSuppression(t *testing.T) {
	net := buildNetwork(t, topology.Strategies{Forwarding: topology.RoundRobin, Chunking: topology.Fixed}, nil, nil, nil)
	q := &query.Record{UID: "u1", Field: "PM2.5", Comparator: query.GT, Threshold: 35, Limit: 5, Hops: []string{"A", "B"}}
	resp := net.nodes["B"].HandleQuery(context.Background(), q)

	if resp.Status != query.LoopSuppressed {
		t.Fatalf("status = %s, want LOOP_SUPPRESSED", resp.Status)
	}
	if resp.TotalRecords != 0 {
		t.Fatalf("total_records = %d, want 0", resp.TotalRecords)
	}
	if len(resp.Hops) != 2 || resp.Hops[0] != "A" || resp.Hops[1] != "B" {
		t.Fatalf("hops = %v, want unchanged [A B]", resp.Hops)
	}
}

func TestPartialFailureDegradesGracefully(t *testing.T) {
	strategies := topology.Strategies{Forwarding: topology.Parallel, Chunking: topology.Fixed, AsyncForwarding: true}
	net := buildNetwork(t, strategies, rowsAbove(40), rowsAbove(60), rowsAbove(70, 80))
	net.fail["F"] = true

	q := query.NewOrigin("PM2.5", query.GT, 35, 10)
	resp := net.nodes["A"].HandleQuery(context.Background(), q)

	if resp.Status != query.OK {
		t.Fatalf("status = %s, want OK despite F's failure", resp.Status)
	}
	found := false
	for _, h := range resp.Hops {
		if h == query.MarkUnreachable("F") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unreachable marker for F in hops, got %v", resp.Hops)
	}
}

func TestLimitIsNeverExceeded(t *testing.T) {
	strategies := topology.Strategies{Forwarding: topology.RoundRobin, Chunking: topology.Fixed}
	net := buildNetwork(t, strategies, rowsAbove(40, 41, 42, 43, 44), rowsAbove(50, 51, 52), rowsAbove(60, 61, 62))
	q := query.NewOrigin("PM2.5", query.GT, 35, 3)
	resp := net.nodes["A"].HandleQuery(context.Background(), q)
	if resp.TotalRecords > 3 {
		t.Fatalf("total_records = %d, want <= 3", resp.TotalRecords)
	}
}

func TestStrategySwapPreservesRecordsAndHopContent(t *testing.T) {
	base := rowsAbove(40, 50)
	dRows, fRows := rowsAbove(60), rowsAbove(70, 80)

	net1 := buildNetwork(t, topology.Strategies{Forwarding: topology.RoundRobin, Chunking: topology.Fixed}, base, dRows, fRows)
	r1 := net1.nodes["A"].HandleQuery(context.Background(), query.NewOrigin("PM2.5", query.GT, 35, 5))

	net2 := buildNetwork(t, topology.Strategies{Forwarding: topology.Parallel, Chunking: topology.Adaptive, AsyncForwarding: true}, base, dRows, fRows)
	r2 := net2.nodes["A"].HandleQuery(context.Background(), query.NewOrigin("PM2.5", query.GT, 35, 5))

	if r1.TotalRecords != r2.TotalRecords {
		t.Fatalf("total_records differ across strategies: %d vs %d", r1.TotalRecords, r2.TotalRecords)
	}
	set1, set2 := map[string]bool{}, map[string]bool{}
	for _, h := range r1.Hops {
		set1[h] = true
	}
	for _, h := range r2.Hops {
		set2[h] = true
	}
	if len(set1) != len(set2) {
		t.Fatalf("hop sets differ in size: %v vs %v", r1.Hops, r2.Hops)
	}
	for h := range set1 {
		if !set2[h] {
			t.Fatalf("hop %s present in round_robin run but not parallel run", h)
		}
	}
}
