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

// Package resultcache implements the chunking strategies of §4.4 and the
// TTL-bounded, UID-addressed result cache of §4.7.
package resultcache

import (
	"github.com/sixnode/overlay/topology"
)

// ChunkSize computes the chunk size for a merged result of n rows, per
// §4.4. base is the configured base_chunk_size; limit is the originating
// query's limit (used only by query_based).
func ChunkSize(strategy topology.ChunkingStrategy, n int, base uint, limit uint32) uint {
	switch strategy {
	case topology.Fixed:
		return base
	case topology.Adaptive:
		switch {
		case n < 100:
			return 50
		case n < 500:
			return base
		case n < 2000:
			return 2 * base
		default:
			const maxChunk = 1000
			return maxChunk
		}
	case topology.QueryBased:
		cs := uint(limit / 10)
		if cs < base {
			return base
		}
		const cap500 = 500
		if cs > cap500 {
			return cap500
		}
		return cs
	default:
		return base
	}
}

// TotalChunks returns ceil(n/chunkSize), at least 1 — an empty result
// still yields one empty chunk flagged is_last (§4.4, §8 invariant 5).
func TotalChunks(n int, chunkSize uint) uint32 {
	if chunkSize == 0 {
		return 1
	}
	tc := (uint(n) + chunkSize - 1) / chunkSize
	if tc == 0 {
		tc = 1
	}
	return uint32(tc)
}
