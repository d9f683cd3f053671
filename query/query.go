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

// Package query holds the query record and shard row data model (§3) and
// the comparator and status enums that appear on the wire (§6, §7).
package query

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Comparator is one of the five filter operators a Query can carry.
type Comparator string

const (
	LT Comparator = "<"
	LE Comparator = "<="
	EQ Comparator = "="
	GE Comparator = ">="
	GT Comparator = ">"
)

func ParseComparator(s string) (Comparator, error) {
	switch Comparator(s) {
	case LT, LE, EQ, GE, GT:
		return Comparator(s), nil
	default:
		return "", fmt.Errorf("query: unknown comparator %q", s)
	}
}

// Apply evaluates `value <cmp> threshold`.
func (c Comparator) Apply(value, threshold float64) bool {
	switch c {
	case LT:
		return value < threshold
	case LE:
		return value <= threshold
	case EQ:
		return value == threshold
	case GE:
		return value >= threshold
	case GT:
		return value > threshold
	default:
		return false
	}
}

// Status is the closed, wire-visible outcome enum (§7).
type Status string

const (
	OK                  Status = "OK"
	CapacityExhausted   Status = "CAPACITY_EXHAUSTED"
	UIDExpired          Status = "UID_EXPIRED"
	UIDUnknown          Status = "UID_UNKNOWN"
	LoopSuppressed      Status = "LOOP_SUPPRESSED"
	NeighborUnreachable Status = "NEIGHBOR_UNREACHABLE"
	InternalError       Status = "INTERNAL_ERROR"
)

// unreachableSuffix marks a hop entry left by a downstream failure (§4.2:
// "a downstream failure ... records the failure in the hops trace with a
// marker but proceeds"). Such an entry does not satisfy the loop-guard
// membership test.
const unreachableSuffix = ":unreachable"

// MarkUnreachable returns the hop-trace marker for a neighbor that failed
// to answer.
func MarkUnreachable(id string) string { return id + unreachableSuffix }

// Record is the Query record of §3: the request that travels between
// nodes, accumulating hops as it is forwarded.
type Record struct {
	UID        string
	Field      string
	Comparator Comparator
	Threshold  float64
	Limit      uint32
	Hops       []string
	Deadline   time.Time // zero value means no deadline
}

// NewOrigin assigns a fresh UID, as only the originating leader does on
// first admission (§3: "UID is assigned by the originating leader on
// first admission").
func NewOrigin(field string, cmp Comparator, threshold float64, limit uint32) *Record {
	return &Record{
		UID:        uuid.New().String(),
		Field:      field,
		Comparator: cmp,
		Threshold:  threshold,
		Limit:      limit,
	}
}

// HasVisited reports whether id already appears in Hops as a real
// traversal entry (an unreachable marker does not count).
func (r *Record) HasVisited(id string) bool {
	for _, h := range r.Hops {
		if h == id {
			return true
		}
	}
	return false
}

// AppendSelf returns a copy of the record with id appended to Hops. Each
// node calls this on receipt, for itself, during the loop-check step
// (§4.2 step 1: "Otherwise append this node's id").
func (r *Record) AppendSelf(id string) *Record {
	hops := make([]string, len(r.Hops), len(r.Hops)+1)
	copy(hops, r.Hops)
	hops = append(hops, id)
	cp := *r
	cp.Hops = hops
	return &cp
}

// WithLimit returns a copy of the record with a reduced limit — the
// shape of one downstream sub-query after limit splitting (§4.2 step 4).
// Hops is shared unchanged across all sub-queries fanned out from the
// same node; only the limit differs per child.
func (r *Record) WithLimit(limit uint32) *Record {
	cp := *r
	cp.Limit = limit
	return &cp
}

// Row is an opaque shard row: numeric fields usable by a comparator, plus
// a passthrough of any other column so results round-trip losslessly.
type Row struct {
	Fields      map[string]float64
	Passthrough map[string]string
}

// Get returns the named field's numeric value, for comparator evaluation.
func (r Row) Get(field string) (float64, bool) {
	v, ok := r.Fields[field]
	return v, ok
}
