// Copyright 2024 CowFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"cowfs/internal/common"
)

// PoolStats are the allocator counters
type PoolStats struct {
	BlocksAllocated    uint64 `json:"blocks_allocated"`
	BlocksFreed        uint64 `json:"blocks_freed"`
	BlocksDeduplicated uint64 `json:"blocks_deduplicated"`
	BytesSavedDedup    uint64 `json:"bytes_saved_dedup"`
	JournalEntries     uint64 `json:"journal_entries"`
}

// Pool is a fixed-capacity array of block slots with a content index.
// Claims on a block are changed only through Allocate, Free and Retain.
// A Pool is not safe for concurrent use; the Engine serializes access.
type Pool struct {
	blocks      []block
	index       map[ContentHash]uint32
	lastAlloc   int
	used        int
	compression Compression
	stats       PoolStats
	undo        *journal
}

// NewPool creates a pool with capacity slots, all free
func NewPool(capacity int, compression Compression) *Pool {
	if compression == "" {
		compression = CompressionNone
	}
	return &Pool{
		blocks:      make([]block, capacity),
		index:       make(map[ContentHash]uint32),
		lastAlloc:   -1,
		compression: compression,
	}
}

// Capacity returns the number of slots
func (p *Pool) Capacity() int {
	return len(p.blocks)
}

// Used returns the number of slots in BlockData state
func (p *Pool) Used() int {
	return p.used
}

// Stats returns the allocator counters
func (p *Pool) Stats() PoolStats {
	return p.stats
}

// ResetStats zeroes the allocator counters without touching blocks
func (p *Pool) ResetStats() {
	p.stats = PoolStats{}
}

// Allocate stores content and returns the id of the block that holds it.
// Content already held by a live block is shared: that block gains a claim
// and no slot is consumed. Otherwise the next free slot after the last
// allocation is used, wrapping once. ErrOutOfBlocks leaves the pool as it was.
func (p *Pool) Allocate(content []byte) (uint32, error) {
	hash := HashContent(content)

	if id, ok := p.index[hash]; ok {
		b := &p.blocks[id]
		if b.state == BlockData && b.hashSet && b.hash == hash {
			p.touchBlock(id)
			b.refCount++
			b.dedup = true
			p.stats.BlocksDeduplicated++
			p.stats.BytesSavedDedup += uint64(len(content))
			log.Tracef("[Pool] Allocate: dedup hit block=%d refCount=%d", id, b.refCount)
			return id, nil
		}
		log.Debugf("[Pool] Allocate: dropping stale index entry %s -> %d", hash.Short(), id)
		p.touchIndex(hash)
		delete(p.index, hash)
	}

	id, ok := p.nextFree()
	if !ok {
		log.Debugf("[Pool] Allocate: no free slot among %d", len(p.blocks))
		return 0, fmt.Errorf("allocate %d bytes: %w", len(content), common.ErrOutOfBlocks)
	}

	p.touchBlock(id)
	p.touchIndex(hash)
	stored, compressed := encodePayload(p.compression, content)
	p.blocks[id] = block{
		state:      BlockData,
		payload:    stored,
		compressed: compressed,
		size:       len(content),
		refCount:   1,
		hash:       hash,
		hashSet:    true,
	}
	p.index[hash] = id
	p.lastAlloc = int(id)
	p.used++
	p.stats.BlocksAllocated++
	log.Tracef("[Pool] Allocate: block=%d size=%d hash=%s", id, len(content), hash.Short())
	return id, nil
}

// nextFree scans from lastAlloc+1 to the end, then from 0 up to the start
func (p *Pool) nextFree() (uint32, bool) {
	n := len(p.blocks)
	if n == 0 {
		return 0, false
	}
	start := (p.lastAlloc + 1) % n
	for i := start; i < n; i++ {
		if p.blocks[i].state == BlockFree {
			return uint32(i), true
		}
	}
	for i := 0; i < start; i++ {
		if p.blocks[i].state == BlockFree {
			return uint32(i), true
		}
	}
	return 0, false
}

// Free drops one claim on a block. The last claim returns the slot to the
// free state and removes its index entry. Out-of-range and free ids are ignored.
func (p *Pool) Free(id uint32) {
	if int(id) >= len(p.blocks) {
		log.Debugf("[Pool] Free: block %d out of range", id)
		return
	}
	b := &p.blocks[id]
	if b.state == BlockFree {
		log.Debugf("[Pool] Free: block %d already free", id)
		return
	}

	p.touchBlock(id)
	if b.refCount == 0 {
		log.Warnf("[Pool] Free: live block %d has no claims, releasing it", id)
	} else {
		b.refCount--
	}
	if b.refCount > 0 {
		return
	}

	if cur, ok := p.index[b.hash]; ok && cur == id {
		p.touchIndex(b.hash)
		delete(p.index, b.hash)
	}
	*b = block{}
	p.used--
	p.stats.BlocksFreed++
	log.Tracef("[Pool] Free: block=%d released", id)
}

// Retain adds a claim to a live block
func (p *Pool) Retain(id uint32) error {
	if int(id) >= len(p.blocks) {
		return fmt.Errorf("retain block %d: %w", id, common.ErrInvalidBlock)
	}
	b := &p.blocks[id]
	if b.state == BlockFree {
		return fmt.Errorf("retain block %d: %w", id, common.ErrBlockFree)
	}
	p.touchBlock(id)
	b.refCount++
	return nil
}

// Payload returns a copy of the raw bytes held by a live block
func (p *Pool) Payload(id uint32) ([]byte, bool) {
	if int(id) >= len(p.blocks) {
		return nil, false
	}
	b := &p.blocks[id]
	if b.state == BlockFree || b.payload == nil {
		return nil, false
	}
	raw, err := decodePayload(b.payload, b.compressed)
	if err != nil {
		log.Warnf("[Pool] Payload: block %d failed to decode: %v", id, err)
		return nil, false
	}
	if !b.compressed {
		raw = append([]byte(nil), raw...)
	}
	return raw, true
}

// Block returns the view of a single slot
func (p *Pool) Block(id uint32) (BlockView, bool) {
	if int(id) >= len(p.blocks) {
		return BlockView{}, false
	}
	return p.blocks[id].view(id), true
}

// Blocks returns the view of every slot, or only live ones when usedOnly is set
func (p *Pool) Blocks(usedOnly bool) []BlockView {
	views := make([]BlockView, 0, len(p.blocks))
	for i := range p.blocks {
		if usedOnly && p.blocks[i].state == BlockFree {
			continue
		}
		views = append(views, p.blocks[i].view(uint32(i)))
	}
	return views
}

// Usage summarizes space accounting over live blocks
type Usage struct {
	PhysicalBytes   int64 `json:"physical_bytes"`   // raw bytes held once per block
	ReferencedBytes int64 `json:"referenced_bytes"` // raw bytes counted once per claim
	StoredBytes     int64 `json:"stored_bytes"`     // bytes after the pool codec
	DedupBlocks     int   `json:"dedup_blocks"`
}

// Usage walks the pool and totals live block sizes
func (p *Pool) Usage() Usage {
	var u Usage
	for i := range p.blocks {
		b := &p.blocks[i]
		if b.state == BlockFree {
			continue
		}
		u.PhysicalBytes += int64(b.size)
		u.ReferencedBytes += int64(b.size) * int64(b.refCount)
		u.StoredBytes += int64(len(b.payload))
		if b.dedup {
			u.DedupBlocks++
		}
	}
	return u
}
