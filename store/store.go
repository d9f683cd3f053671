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

// Package store holds a node's in-memory shard and exposes the filtered
// linear scan the orchestrator runs locally on each query (§4.6).
package store

import (
	"github.com/sixnode/overlay/query"
	"github.com/sixnode/overlay/topology"
)

// Loader materializes a date-range shard into rows. This is the
// out-of-scope dataset-loader contract named in §1a; csvstore provides a
// reference implementation.
type Loader interface {
	Load(bounds topology.DateBounds) ([]query.Row, error)
}

// Store holds one node's shard. Rows are immutable after load. The date
// range is applied only through what is loaded: New asks the loader for
// the shard of the node's own date_bounds and loads nothing without them.
// Store itself does not inspect row dates or drop rows.
type Store struct {
	rows       []query.Row
	filesCount int
}

// New loads rows via loader when bounds is non-nil; a node with no
// date_bounds exposes an empty shard (§4.6: "A node with no date_bounds
// exposes an empty shard").
func New(loader Loader, bounds *topology.DateBounds) (*Store, error) {
	if bounds == nil {
		return &Store{}, nil
	}
	rows, err := loader.Load(*bounds)
	if err != nil {
		return nil, err
	}
	return &Store{rows: rows, filesCount: 1}, nil
}

// FilesLoaded reports how many source files were materialized into this
// shard, surfaced verbatim through GetMetrics (§4.8).
func (s *Store) FilesLoaded() int { return s.filesCount }

// Len reports the shard's row count.
func (s *Store) Len() int { return len(s.rows) }

// Scan performs the single linear pass of §4.6: returns the first limit
// rows, in load order, matching `row[field] <cmp> threshold`.
func (s *Store) Scan(field string, cmp query.Comparator, threshold float64, limit uint32) []query.Row {
	if limit == 0 {
		return nil
	}
	out := make([]query.Row, 0, limit)
	for _, row := range s.rows {
		v, ok := row.Get(field)
		if !ok {
			continue
		}
		if cmp.Apply(v, threshold) {
			out = append(out, row)
			if uint32(len(out)) >= limit {
				break
			}
		}
	}
	return out
}
