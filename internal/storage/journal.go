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
	log "github.com/sirupsen/logrus"
)

// journal keeps before-images of everything a pool operation sequence
// touches, so the sequence can be undone as a unit. Only the first touch
// of a slot or index key is recorded.
type journal struct {
	blocks    map[uint32]block
	index     map[ContentHash]indexImage
	lastAlloc int
	used      int
	stats     PoolStats
}

type indexImage struct {
	id      uint32
	present bool
}

// Begin starts recording. Journals do not nest.
func (p *Pool) Begin() {
	if p.undo != nil {
		panic("storage: pool journal already open")
	}
	p.undo = &journal{
		blocks:    make(map[uint32]block),
		index:     make(map[ContentHash]indexImage),
		lastAlloc: p.lastAlloc,
		used:      p.used,
		stats:     p.stats,
	}
}

// Commit keeps every change made since Begin
func (p *Pool) Commit() {
	if p.undo == nil {
		return
	}
	entries := len(p.undo.blocks) + len(p.undo.index)
	p.undo = nil
	p.stats.JournalEntries += uint64(entries)
}

// Abort restores the pool to its state at Begin
func (p *Pool) Abort() {
	j := p.undo
	if j == nil {
		return
	}
	p.undo = nil

	for id, img := range j.blocks {
		p.blocks[id] = img
	}
	for hash, img := range j.index {
		if img.present {
			p.index[hash] = img.id
		} else {
			delete(p.index, hash)
		}
	}
	p.lastAlloc = j.lastAlloc
	p.used = j.used
	p.stats = j.stats
	log.Debugf("[Pool] Abort: restored %d blocks, %d index entries", len(j.blocks), len(j.index))
}

func (p *Pool) touchBlock(id uint32) {
	if p.undo == nil {
		return
	}
	if _, seen := p.undo.blocks[id]; !seen {
		p.undo.blocks[id] = p.blocks[id]
	}
}

func (p *Pool) touchIndex(hash ContentHash) {
	if p.undo == nil {
		return
	}
	if _, seen := p.undo.index[hash]; !seen {
		id, ok := p.index[hash]
		p.undo.index[hash] = indexImage{id: id, present: ok}
	}
}
