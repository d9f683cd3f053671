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

// Package admission implements the admission controller of §4.1: gating
// incoming Query work by global and per-team concurrency budgets using
// one of three fairness strategies.
package admission

import (
	"sync"
	"sync/atomic"

	"github.com/sixnode/overlay/topology"
)

// Token is the opaque handle representing a reserved concurrency slot
// (§3 GLOSSARY: "Admission token").
type Token struct {
	team     topology.Team
	released int32
}

// Ledger is a read-only view of the admission counters (§3: "Admission
// ledger"), returned by Snapshot for metrics and routing hints.
type Ledger struct {
	ActiveTotal   int64
	ActivePerTeam map[topology.Team]int64
	MaxTotal      int64
	MaxPerTeam    map[topology.Team]int64
	SystemLoad    float64
}

// Controller is the admission controller for one node. A single mutex
// guards the counters; §5 requires only a short critical section, which
// admit/release both are.
type Controller struct {
	strategy   topology.FairnessStrategy
	maxTotal   int64
	maxPerTeam map[topology.Team]int64

	mu            sync.Mutex
	activeTotal   int64
	activePerTeam map[topology.Team]int64
}

// New creates a Controller for the given fairness strategy and budgets.
func New(strategy topology.FairnessStrategy, maxTotal int64, maxPerTeam map[topology.Team]int64) *Controller {
	return &Controller{
		strategy:      strategy,
		maxTotal:      maxTotal,
		maxPerTeam:    maxPerTeam,
		activePerTeam: make(map[topology.Team]int64),
	}
}

// Admit attempts to reserve a concurrency slot for team. On success it
// returns a Token and ok=true; the counters have already been
// incremented atomically (§4.1: "admit(team) -> {token | reject}: atomic").
func (c *Controller) Admit(team topology.Team) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.allow(team) {
		return nil, false
	}
	c.activeTotal++
	c.activePerTeam[team]++
	return &Token{team: team}, true
}

// allow evaluates the configured fairness strategy. Must be called with
// c.mu held.
func (c *Controller) allow(team topology.Team) bool {
	switch c.strategy {
	case topology.Strict:
		return c.strictAllow(team)
	case topology.Weighted:
		return c.weightedAllow(team)
	case topology.Hybrid:
		if c.systemLoad() > 0.8 {
			return c.strictAllow(team)
		}
		return c.weightedAllow(team)
	default:
		return c.strictAllow(team)
	}
}

func (c *Controller) strictAllow(team topology.Team) bool {
	if c.activeTotal >= c.maxTotal {
		return false
	}
	return c.activePerTeam[team] < c.maxPerTeam[team]
}

func (c *Controller) weightedAllow(team topology.Team) bool {
	if c.activeTotal >= c.maxTotal {
		return false
	}
	other := otherTeam(team)
	otherMax := c.maxPerTeam[other]
	otherLoad := 0.0
	if otherMax > 0 {
		otherLoad = float64(c.activePerTeam[other]) / float64(otherMax)
	}
	slack := 1 - otherLoad
	if slack < 0 {
		slack = 0
	}
	bound := float64(c.maxPerTeam[team]) * (1 + slack)
	return float64(c.activePerTeam[team]) < bound
}

func otherTeam(t topology.Team) topology.Team {
	if t == topology.Green {
		return topology.Pink
	}
	return topology.Green
}

// systemLoad must be called with c.mu held.
func (c *Controller) systemLoad() float64 {
	if c.maxTotal == 0 {
		return 0
	}
	return float64(c.activeTotal) / float64(c.maxTotal)
}

// Release decrements the counters matching tok. Idempotent: a token may
// be released at most once, regardless of how many call sites attempt it
// (§4.1: "release(token): idempotent"), guaranteeing §8 invariant 1.
func (c *Controller) Release(tok *Token) {
	if tok == nil {
		return
	}
	if !atomic.CompareAndSwapInt32(&tok.released, 0, 1) {
		return
	}
	c.mu.Lock()
	c.activeTotal--
	c.activePerTeam[tok.team]--
	c.mu.Unlock()
}

// Snapshot returns the current counters for metrics and routing hints
// (§4.1: "snapshot()").
func (c *Controller) Snapshot() Ledger {
	c.mu.Lock()
	defer c.mu.Unlock()

	perTeam := make(map[topology.Team]int64, len(c.activePerTeam))
	for k, v := range c.activePerTeam {
		perTeam[k] = v
	}
	maxPerTeam := make(map[topology.Team]int64, len(c.maxPerTeam))
	for k, v := range c.maxPerTeam {
		maxPerTeam[k] = v
	}
	return Ledger{
		ActiveTotal:   c.activeTotal,
		ActivePerTeam: perTeam,
		MaxTotal:      c.maxTotal,
		MaxPerTeam:    maxPerTeam,
		SystemLoad:    c.systemLoad(),
	}
}
