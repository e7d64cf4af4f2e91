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

// BlockState is the allocation state of a pool slot
type BlockState uint8

const (
	BlockFree BlockState = iota
	BlockData
)

// String returns the display name used by block listings
func (s BlockState) String() string {
	switch s {
	case BlockFree:
		return "FREE"
	case BlockData:
		return "DATA"
	default:
		return "UNKNOWN"
	}
}

// block is one pool slot. Only Pool methods touch these fields.
//
// state == BlockFree <=> refCount == 0 <=> payload == nil <=> hash unset
type block struct {
	state      BlockState
	payload    []byte // encoded by the pool codec
	compressed bool
	size       int // raw payload length
	refCount   uint32
	hash       ContentHash
	hashSet    bool
	dedup      bool
}

// BlockView is a read-only description of a pool slot
type BlockView struct {
	ID             uint32 `json:"id"`
	Type           int    `json:"type"` // 0 free, 1 data
	State          string `json:"state"`
	RefCount       uint32 `json:"ref_count"`
	IsCow          bool   `json:"is_cow"`
	IsDeduplicated bool   `json:"is_deduplicated"`
	Size           int    `json:"size"`
	StoredSize     int    `json:"stored_size"`
	Hash           string `json:"hash,omitempty"`
}

func (b *block) view(id uint32) BlockView {
	v := BlockView{
		ID:             id,
		Type:           int(b.state),
		State:          b.state.String(),
		RefCount:       b.refCount,
		IsCow:          b.refCount > 1,
		IsDeduplicated: b.dedup,
		Size:           b.size,
		StoredSize:     len(b.payload),
	}
	if b.hashSet {
		v.Hash = b.hash.Short()
	}
	return v
}
