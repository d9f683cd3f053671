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

// Package node wires the six leaf components (§2 dependency order:
// metrics, data store, result cache, neighbor registry, admission,
// orchestrator) into one running process, mirroring the constructor
// shape of the teacher's cmd/snellerd/server.go.
package node

import (
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sixnode/overlay/admission"
	"github.com/sixnode/overlay/metrics"
	"github.com/sixnode/overlay/neighbor"
	"github.com/sixnode/overlay/orchestrator"
	"github.com/sixnode/overlay/resultcache"
	"github.com/sixnode/overlay/store"
	"github.com/sixnode/overlay/topology"
	"github.com/sixnode/overlay/transport"
)

// evictSweepInterval is how often the result cache sweeps for expired
// entries (§4.7).
const evictSweepInterval = 5 * time.Second

// Node is one running process: the leaf components plus the orchestrator
// and transport server built on top of them (§2 control flow: Transport
// -> Admission -> Orchestrator -> {Data store, Neighbor registry} ->
// Result cache).
type Node struct {
	ID        string
	Config    *topology.Config
	Store     *store.Store
	Cache     *resultcache.Cache
	Registry  *neighbor.Registry
	Admission *admission.Controller
	Tracker   *metrics.Tracker
	Orch      *orchestrator.Orchestrator
	Transport *transport.Server
}

// Build constructs one node's full dependency graph for process id,
// reading topology from cfg and materializing its shard (if any) via
// loader. reg receives the node's Prometheus collectors; pass nil in
// tests that do not want to share the default registry. logger is used
// by both the transport server and (indirectly) nothing else today; a
// nil logger yields a discard logger (SPEC_FULL.md's logging section).
func Build(cfg *topology.Config, id string, loader store.Loader, logger *log.Logger, reg prometheus.Registerer) (*Node, error) {
	self, ok := cfg.Processes[id]
	if !ok {
		return nil, fmt.Errorf("node: unknown process id %q", id)
	}

	st, err := store.New(loader, self.DateBounds)
	if err != nil {
		return nil, fmt.Errorf("node: loading shard for %s: %w", id, err)
	}

	tracker := metrics.New(id, string(self.Role), string(self.Team), reg)
	tracker.SetFilesLoaded(st.FilesLoaded())

	cache := resultcache.New(evictSweepInterval)

	neighbors, err := cfg.Neighbors(id)
	if err != nil {
		return nil, err
	}
	endpoints := make(map[string]string, len(neighbors))
	for _, n := range neighbors {
		endpoints[n.ID] = n.Endpoint()
	}
	registry := neighbor.NewRegistry(endpoints)

	maxTotal, maxPerTeam := cfg.Budgets()
	ctrl := admission.New(cfg.Strategies.Fairness, maxTotal, maxPerTeam)

	orch := &orchestrator.Orchestrator{
		ID:         id,
		Role:       self.Role,
		Team:       self.Team,
		Topology:   cfg,
		Store:      st,
		Cache:      cache,
		Caller:     registry,
		Tracker:    tracker,
		Strategies: cfg.Strategies,
		BaseChunk:  cfg.Strategies.ChunkSize,
		TTL:        cfg.Strategies.ResultTTL(),
	}

	srv := &transport.Server{
		ID:           id,
		Team:         self.Team,
		Logger:       logger,
		Admission:    ctrl,
		Orchestrator: orch,
		Cache:        cache,
		Tracker:      tracker,
	}

	return &Node{
		ID:        id,
		Config:    cfg,
		Store:     st,
		Cache:     cache,
		Registry:  registry,
		Admission: ctrl,
		Tracker:   tracker,
		Orch:      orch,
		Transport: srv,
	}, nil
}

// Endpoint returns this node's own configured host:port.
func (n *Node) Endpoint() string {
	return n.Config.Processes[n.ID].Endpoint()
}

// Serve binds and serves the node's transport endpoint; it blocks until
// the listener fails or is closed.
func (n *Node) Serve() error {
	return n.Transport.ListenAndServe(n.Endpoint())
}

// Close releases the node's background resources (cache eviction loop,
// HTTP listener).
func (n *Node) Close() error {
	n.Cache.Close()
	return n.Transport.Close()
}
