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

import "fmt"

// Inconsistency kinds reported by Verify
const (
	InconsistencyRefCount  = "ref_count"
	InconsistencyResidue   = "free_residue"
	InconsistencyIndex     = "index"
	InconsistencyUsedCount = "used_count"
)

// Inconsistency is one accounting error found by Verify
type Inconsistency struct {
	Kind     string `json:"kind"`
	BlockID  uint32 `json:"block_id"`
	Expected uint32 `json:"expected"`
	Actual   uint32 `json:"actual"`
	Detail   string `json:"detail"`
}

// Verify recounts every claim held by live inodes, reachable versions and
// snapshots and compares the result with the pool. An empty result means
// the pool accounting is exact.
func (e *Engine) Verify() []Inconsistency {
	e.mu.Lock()
	defer e.mu.Unlock()

	expected := make([]uint32, e.pool.Capacity())
	var issues []Inconsistency
	claim := func(owner string, ids []uint32) {
		for _, id := range ids {
			if int(id) >= len(expected) {
				issues = append(issues, Inconsistency{
					Kind:    InconsistencyRefCount,
					BlockID: id,
					Detail:  fmt.Sprintf("%s refers to out-of-range block", owner),
				})
				continue
			}
			expected[id]++
		}
	}

	for _, n := range e.files.inodes {
		claim("file "+n.Name, n.BlockIDs)
	}
	for v := range e.versions {
		claim(fmt.Sprintf("version %d", v.ID), v.BlockIDs)
	}
	for _, s := range e.snapshots {
		for _, n := range s.Inodes {
			claim("snapshot "+s.Name, n.BlockIDs)
		}
	}

	used := 0
	for i := range e.pool.blocks {
		b := &e.pool.blocks[i]
		id := uint32(i)
		if b.state == BlockFree {
			if b.refCount != 0 || b.payload != nil || b.hashSet || b.dedup {
				issues = append(issues, Inconsistency{
					Kind:    InconsistencyResidue,
					BlockID: id,
					Actual:  b.refCount,
					Detail:  "free block carries state",
				})
			}
		} else {
			used++
			if b.payload == nil || !b.hashSet {
				issues = append(issues, Inconsistency{
					Kind:    InconsistencyResidue,
					BlockID: id,
					Actual:  b.refCount,
					Detail:  "data block without payload or hash",
				})
			}
		}
		if b.refCount != expected[i] {
			issues = append(issues, Inconsistency{
				Kind:     InconsistencyRefCount,
				BlockID:  id,
				Expected: expected[i],
				Actual:   b.refCount,
				Detail:   fmt.Sprintf("block state %s", b.state),
			})
		}
	}
	if used != e.pool.used {
		issues = append(issues, Inconsistency{
			Kind:     InconsistencyUsedCount,
			Expected: uint32(used),
			Actual:   uint32(e.pool.used),
			Detail:   "used block counter drifted",
		})
	}

	for hash, id := range e.pool.index {
		if int(id) >= len(e.pool.blocks) {
			issues = append(issues, Inconsistency{Kind: InconsistencyIndex, BlockID: id, Detail: "index entry out of range"})
			continue
		}
		b := &e.pool.blocks[id]
		if b.state == BlockFree || b.hash != hash {
			issues = append(issues, Inconsistency{
				Kind:    InconsistencyIndex,
				BlockID: id,
				Detail:  fmt.Sprintf("index entry %s does not match block", hash.Short()),
			})
		}
	}
	return issues
}
