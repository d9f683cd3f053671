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

// Package topology describes the fixed six-process overlay: node identity,
// team membership, role hierarchy, and the strategy selectors loaded from
// the static configuration document.
package topology

import (
	"fmt"
	"time"
)

// Role is a node's position in the leader -> team_leader -> worker hierarchy.
type Role string

const (
	Leader     Role = "leader"
	TeamLeader Role = "team_leader"
	Worker     Role = "worker"
)

// rank orders roles so that "strictly below" comparisons (the downstream
// roster rule in §3) are a simple integer comparison.
func (r Role) rank() int {
	switch r {
	case Leader:
		return 0
	case TeamLeader:
		return 1
	case Worker:
		return 2
	default:
		return -1
	}
}

func (r Role) valid() bool { return r.rank() >= 0 }

// Team is one of the two colored partitions of the overlay.
type Team string

const (
	Green Team = "green"
	Pink  Team = "pink"
)

func (t Team) valid() bool { return t == Green || t == Pink }

// DateBounds is an inclusive [Start, End] date range in YYYYMMDD form,
// owned by a worker's shard.
type DateBounds struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end"   yaml:"end"`
}

// ForwardingStrategy selects how a node fans a query out to its downstream
// roster (§4.3).
type ForwardingStrategy string

const (
	RoundRobin ForwardingStrategy = "round_robin"
	Parallel   ForwardingStrategy = "parallel"
	Capacity   ForwardingStrategy = "capacity"
)

// ChunkingStrategy selects how a merged result is partitioned into chunks
// (§4.4).
type ChunkingStrategy string

const (
	Fixed      ChunkingStrategy = "fixed"
	Adaptive   ChunkingStrategy = "adaptive"
	QueryBased ChunkingStrategy = "query_based"
)

// FairnessStrategy selects how the admission controller shares its
// concurrency budget across teams (§4.1).
type FairnessStrategy string

const (
	Strict   FairnessStrategy = "strict"
	Weighted FairnessStrategy = "weighted"
	Hybrid   FairnessStrategy = "hybrid"
)

// Strategies bundles the three tagged-variant selectors resolved once at
// startup and passed by value into the orchestrator (§9 design note).
type Strategies struct {
	Forwarding       ForwardingStrategy `json:"forwarding"                    yaml:"forwarding"`
	AsyncForwarding  bool               `json:"async_forwarding"              yaml:"async_forwarding"`
	Chunking         ChunkingStrategy   `json:"chunking"                      yaml:"chunking"`
	Fairness         FairnessStrategy   `json:"fairness"                      yaml:"fairness"`
	ChunkSize        uint               `json:"chunk_size"                    yaml:"chunk_size"`
	ResultTTLSeconds uint               `json:"result_ttl_seconds,omitempty"  yaml:"result_ttl_seconds,omitempty"`
}

// DefaultResultTTLSeconds is used when the document leaves
// result_ttl_seconds unset; it satisfies §4.7's "TTL default >= 60s".
const DefaultResultTTLSeconds uint = 120

// ResultTTL resolves the configured TTL, applying the default above.
func (s Strategies) ResultTTL() time.Duration {
	secs := s.ResultTTLSeconds
	if secs == 0 {
		secs = DefaultResultTTLSeconds
	}
	return time.Duration(secs) * time.Second
}

// NodeConfig is one process's entry in the static configuration document.
type NodeConfig struct {
	ID         string      `json:"id"         yaml:"id"`
	Role       Role        `json:"role"       yaml:"role"`
	Team       Team        `json:"team"       yaml:"team"`
	Host       string      `json:"host"       yaml:"host"`
	Port       int         `json:"port"       yaml:"port"`
	Neighbors  []string    `json:"neighbors"  yaml:"neighbors"`
	DateBounds *DateBounds `json:"date_bounds,omitempty" yaml:"date_bounds,omitempty"`
}

func (n NodeConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// AdmissionConfig carries the admission ledger's budgets (§3: "Admission
// ledger"): max_total and max_per_team. Both are optional in the document;
// a zero MaxTotal or an absent team entry falls back to the defaults
// below, applied by Budgets rather than synthesized by Validate, so a
// document that omits admission entirely still yields workable budgets
// without silently inventing topology the way §9's open-question
// resolution forbids for date_bounds.
type AdmissionConfig struct {
	MaxTotal   int64          `json:"max_total,omitempty"    yaml:"max_total,omitempty"`
	MaxPerTeam map[Team]int64 `json:"max_per_team,omitempty" yaml:"max_per_team,omitempty"`
}

// Default admission budgets, used when the document leaves a value unset.
const (
	DefaultMaxTotal      int64 = 20
	DefaultMaxPerTeamCap int64 = 10
)

// Budgets resolves the admission controller's constructor arguments,
// applying the defaults above for any value the document left unset.
func (c *Config) Budgets() (maxTotal int64, maxPerTeam map[Team]int64) {
	maxTotal = c.Admission.MaxTotal
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotal
	}
	maxPerTeam = map[Team]int64{Green: DefaultMaxPerTeamCap, Pink: DefaultMaxPerTeamCap}
	for team, v := range c.Admission.MaxPerTeam {
		if v > 0 {
			maxPerTeam[team] = v
		}
	}
	return maxTotal, maxPerTeam
}

// Config is the full static configuration document (§6).
type Config struct {
	Strategies Strategies            `json:"strategies"          yaml:"strategies"`
	Processes  map[string]NodeConfig `json:"processes"           yaml:"processes"`
	Admission  AdmissionConfig       `json:"admission,omitempty" yaml:"admission,omitempty"`
}

// wantEdges is the topology invariant from §3: the undirected edge set
// {AB, BC, BD, AE, EF, ED} over process set {A,B,C,D,E,F}.
var wantEdges = map[[2]string]bool{
	{"A", "B"}: true,
	{"B", "C"}: true,
	{"B", "D"}: true,
	{"A", "E"}: true,
	{"E", "F"}: true,
	{"E", "D"}: true,
}

func edgeKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}

// Validate enforces the topology invariant, role cardinality, the
// date_bounds-implies-worker open-question resolution, and the
// async_forwarding/forwarding agreement (SPEC_FULL.md topology module).
func (c *Config) Validate() error {
	if len(c.Processes) != 6 {
		return fmt.Errorf("topology: expected exactly 6 processes, got %d", len(c.Processes))
	}

	leaders, teamLeaders := 0, map[Team]int{}
	seenEdges := map[[2]string]bool{}

	for id, n := range c.Processes {
		if id != n.ID {
			return fmt.Errorf("topology: process key %q does not match node id %q", id, n.ID)
		}
		if !n.Role.valid() {
			return fmt.Errorf("topology: node %s: invalid role %q", id, n.Role)
		}
		if !n.Team.valid() {
			return fmt.Errorf("topology: node %s: invalid team %q", id, n.Team)
		}
		switch n.Role {
		case Leader:
			leaders++
		case TeamLeader:
			teamLeaders[n.Team]++
		}

		// Open Question resolution: only workers own data; bounds are
		// never synthesized for routers, and a worker without bounds
		// must fail startup validation.
		if n.Role == Worker && n.DateBounds == nil {
			return fmt.Errorf("topology: worker %s has no date_bounds", id)
		}
		if n.Role != Worker && n.DateBounds != nil {
			return fmt.Errorf("topology: non-worker %s must not declare date_bounds", id)
		}

		for _, nb := range n.Neighbors {
			other, ok := c.Processes[nb]
			if !ok {
				return fmt.Errorf("topology: node %s declares unknown neighbor %s", id, nb)
			}
			if !contains(other.Neighbors, id) {
				return fmt.Errorf("topology: neighbor link %s-%s is not symmetric", id, nb)
			}
			seenEdges[edgeKey(id, nb)] = true
		}
	}

	if leaders != 1 {
		return fmt.Errorf("topology: expected exactly one leader, got %d", leaders)
	}
	if teamLeaders[Green] != 1 || teamLeaders[Pink] != 1 {
		return fmt.Errorf("topology: expected exactly one team_leader per team, got green=%d pink=%d", teamLeaders[Green], teamLeaders[Pink])
	}

	if len(seenEdges) != len(wantEdges) {
		return fmt.Errorf("topology: expected %d edges, got %d", len(wantEdges), len(seenEdges))
	}
	for e := range wantEdges {
		if !seenEdges[e] {
			return fmt.Errorf("topology: missing required edge %s-%s", e[0], e[1])
		}
	}
	for e := range seenEdges {
		if !wantEdges[e] {
			return fmt.Errorf("topology: unexpected edge %s-%s", e[0], e[1])
		}
	}

	wantAsync := c.Strategies.Forwarding == Parallel || c.Strategies.Forwarding == Capacity
	if c.Strategies.AsyncForwarding != wantAsync {
		return fmt.Errorf("topology: async_forwarding=%v does not agree with forwarding=%q", c.Strategies.AsyncForwarding, c.Strategies.Forwarding)
	}

	return nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Downstream returns this node's downstream roster (§3 GLOSSARY), in
// declared neighbor order. The leader is the one exception to the
// "same team" rule: its downstream is exactly its two team leaders,
// one per team (§3: "The leader has both team leaders as downstream").
// A team leader's downstream is its own team's workers; a worker has no
// downstream.
func (c *Config) Downstream(id string) ([]NodeConfig, error) {
	self, ok := c.Processes[id]
	if !ok {
		return nil, fmt.Errorf("topology: unknown node %s", id)
	}
	var out []NodeConfig
	for _, nb := range self.Neighbors {
		n := c.Processes[nb]
		switch self.Role {
		case Leader:
			if n.Role == TeamLeader {
				out = append(out, n)
			}
		case TeamLeader:
			if n.Team == self.Team && n.Role == Worker {
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// Neighbors returns the full declared neighbor config list, in declared
// order.
func (c *Config) Neighbors(id string) ([]NodeConfig, error) {
	self, ok := c.Processes[id]
	if !ok {
		return nil, fmt.Errorf("topology: unknown node %s", id)
	}
	var out []NodeConfig
	for _, nb := range self.Neighbors {
		out = append(out, c.Processes[nb])
	}
	return out, nil
}
