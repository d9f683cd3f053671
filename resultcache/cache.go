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

package resultcache

import (
	"errors"
	"sync"
	"time"

	"github.com/dchest/siphash"

	"github.com/sixnode/overlay/query"
)

// ErrUnknown and ErrExpired mirror the UID_UNKNOWN / UID_EXPIRED wire
// statuses of §7; the transport layer maps these directly.
var (
	ErrUnknown = errors.New("resultcache: unknown uid")
	ErrExpired = errors.New("resultcache: uid expired")
)

// Result is the Chunked result of §3.
type Result struct {
	UID          string
	Rows         []query.Row
	ChunkSize    uint
	TotalChunks  uint32
	CreatedAt    time.Time
	TTL          time.Duration
	Hops         []string
}

func (r *Result) expiresAt() time.Time { return r.CreatedAt.Add(r.TTL) }

// Chunk is one addressable slice of a published Result (§3: "Chunks are
// addressed by (uid, index)").
type Chunk struct {
	UID         string
	Index       uint32
	TotalChunks uint32
	Rows        []query.Row
	IsLast      bool
}

// shardCount is the number of lock stripes the cache is split across,
// following the teacher's siphash-bucketing technique in
// cmd/snellerd/splitter.go (there used to bucket blobs across peers; here
// repurposed to bucket cache entries across lock stripes, see
// SPEC_FULL.md's resultcache entry). A power of two keeps the modulo a
// mask.
const shardCount = 16

// siphash keys: two fixed random values, same role as splitter.go's.
const (
	shardKey0 = uint64(0x5d1ec810)
	shardKey1 = uint64(0xfebed702)
)

func shardFor(uid string) int {
	h := siphash.Hash(shardKey0, shardKey1, []byte(uid))
	return int(h % shardCount)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*Result
}

// Cache is the thread-safe uid -> chunked_result mapping of §4.7.
type Cache struct {
	shards [shardCount]*shard
	stop   chan struct{}
}

// New creates a Cache and starts its background eviction sweep, run every
// sweepInterval (§4.7: "background eviction of expired entries").
func New(sweepInterval time.Duration) *Cache {
	c := &Cache{stop: make(chan struct{})}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[string]*Result)}
	}
	if sweepInterval > 0 {
		go c.evictLoop(sweepInterval)
	}
	return c
}

// Close stops the background eviction goroutine.
func (c *Cache) Close() { close(c.stop) }

// Put publishes a chunked result under uid. Once published, rows are
// immutable (§3).
func (c *Cache) Put(r *Result) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s := c.shards[shardFor(r.UID)]
	s.mu.Lock()
	s.entries[r.UID] = r
	s.mu.Unlock()
}

// GetChunk returns chunk index of uid's result. Eviction is safe against
// in-progress GetChunk calls: both the evictor and the reader take the
// same shard lock, so a lookup never sees a torn read. A lookup past the
// TTL returns ErrExpired while the entry is still present; once the sweep
// has removed it, the cache keeps no record of the uid and the lookup
// returns ErrUnknown, the same as for a uid that was never published.
func (c *Cache) GetChunk(uid string, index uint32) (Chunk, error) {
	s := c.shards[shardFor(uid)]
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.entries[uid]
	if !ok {
		return Chunk{}, ErrUnknown
	}
	if time.Now().After(r.expiresAt()) {
		return Chunk{}, ErrExpired
	}
	if index >= r.TotalChunks {
		return Chunk{}, ErrUnknown
	}

	start := uint(index) * r.ChunkSize
	end := start + r.ChunkSize
	if end > uint(len(r.Rows)) {
		end = uint(len(r.Rows))
	}
	if start > end {
		start = end
	}
	return Chunk{
		UID:         uid,
		Index:       index,
		TotalChunks: r.TotalChunks,
		Rows:        r.Rows[start:end],
		IsLast:      index == r.TotalChunks-1,
	}, nil
}

func (c *Cache) evictLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			c.sweep(now)
		}
	}
}

// sweep unlinks expired entries; the evictor never mutates a live chunk
// payload, only removes map entries, under each shard's exclusive lock
// (§9 design note).
func (c *Cache) sweep(now time.Time) {
	for _, s := range c.shards {
		s.mu.Lock()
		for uid, r := range s.entries {
			if now.After(r.expiresAt()) {
				delete(s.entries, uid)
			}
		}
		s.mu.Unlock()
	}
}
