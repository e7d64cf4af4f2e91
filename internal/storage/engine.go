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
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"cowfs/internal/common"
)

const (
	DefaultBlockSize = 4096
	DefaultMaxBlocks = 10000
	DefaultMaxInodes = 1000
)

// Config sizes a new Engine
type Config struct {
	BlockSize   int
	MaxBlocks   int
	MaxInodes   int // reported in Status only
	Compression Compression

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a 10000 x 4 KiB pool without compression
func DefaultConfig() Config {
	return Config{
		BlockSize:   DefaultBlockSize,
		MaxBlocks:   DefaultMaxBlocks,
		MaxInodes:   DefaultMaxInodes,
		Compression: CompressionNone,
	}
}

// Validate rejects sizes the engine cannot work with
func (c Config) Validate() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size %d: %w", c.BlockSize, common.ErrInvalidArgument)
	}
	if c.MaxBlocks <= 0 {
		return fmt.Errorf("max blocks %d: %w", c.MaxBlocks, common.ErrInvalidArgument)
	}
	if c.MaxInodes < 0 {
		return fmt.Errorf("max inodes %d: %w", c.MaxInodes, common.ErrInvalidArgument)
	}
	if _, err := ParseCompression(string(c.Compression)); err != nil {
		return err
	}
	return nil
}

// Engine owns the block pool, the file table and the snapshot list.
// Every public method runs under a single mutex and either completes
// or fails without visible changes.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	instanceID     string
	pool           *Pool
	files          fileTable
	snapshots      []*Snapshot
	nextSnapshotID uint64

	// versions holding claims on the pool
	versions map[*Version]struct{}

	metrics Metrics
}

// New creates an empty engine
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{cfg: cfg}
	e.resetLocked()
	return e, nil
}

// Reset discards all files, versions, snapshots and metrics
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.instanceID = uuid.New().String()
	e.pool = NewPool(e.cfg.MaxBlocks, e.cfg.Compression)
	e.files = fileTable{nextID: 1}
	e.snapshots = nil
	e.nextSnapshotID = 1
	e.versions = make(map[*Version]struct{})
	e.metrics = Metrics{}
	log.Debugf("[Engine] Reset: instance=%s blocks=%d blockSize=%d", e.instanceID, e.cfg.MaxBlocks, e.cfg.BlockSize)
}

// Config returns the configuration the engine was built with
func (e *Engine) Config() Config {
	return e.cfg
}

// Status is a point-in-time summary of the engine
type Status struct {
	InstanceID     string        `json:"instance_id"`
	TotalBlocks    int           `json:"total_blocks"`
	UsedBlocks     int           `json:"used_blocks"`
	TotalInodes    int           `json:"total_inodes"`
	UsedInodes     int           `json:"used_inodes"`
	SnapshotCount  int           `json:"snapshot_count"`
	VersionCount   int           `json:"version_count"`
	BlockSize      int           `json:"block_size"`
	Compression    string        `json:"compression"`
	LogicalBytes   int64         `json:"logical_bytes"`
	AllocatedBytes int64         `json:"allocated_bytes"`
	Usage          Usage         `json:"usage"`
	DedupRatio     float64       `json:"dedup_ratio"`
	Metrics        MetricsReport `json:"metrics"`
}

// Status returns counts, space usage and metrics
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	usage := e.pool.Usage()
	var logical int64
	for _, n := range e.files.inodes {
		logical += n.Size
	}
	ratio := 1.0
	if usage.PhysicalBytes > 0 {
		ratio = float64(usage.ReferencedBytes) / float64(usage.PhysicalBytes)
	}
	return Status{
		InstanceID:     e.instanceID,
		TotalBlocks:    e.pool.Capacity(),
		UsedBlocks:     e.pool.Used(),
		TotalInodes:    e.cfg.MaxInodes,
		UsedInodes:     len(e.files.inodes),
		SnapshotCount:  len(e.snapshots),
		VersionCount:   len(e.versions),
		BlockSize:      e.cfg.BlockSize,
		Compression:    string(e.cfg.Compression),
		LogicalBytes:   logical,
		AllocatedBytes: int64(e.pool.Used()) * int64(e.cfg.BlockSize),
		Usage:          usage,
		DedupRatio:     ratio,
		Metrics:        e.metrics.report(e.pool.Stats()),
	}
}

// ResetMetrics zeroes all counters and timings
func (e *Engine) ResetMetrics() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = Metrics{}
	e.pool.ResetStats()
}

// Blocks lists pool slots
func (e *Engine) Blocks(usedOnly bool) []BlockView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.Blocks(usedOnly)
}

// retainAll adds a claim to every listed block. Free blocks are skipped:
// a free block here means the accounting is already broken.
func (e *Engine) retainAll(op string, ids []uint32) {
	for _, id := range ids {
		if err := e.pool.Retain(id); err != nil {
			log.Warnf("[Engine] %s: %v", op, err)
		}
	}
}

func (e *Engine) freeAll(ids []uint32) {
	for _, id := range ids {
		e.pool.Free(id)
	}
}

// releaseOrphanedVersions drops the claims of versions no longer reachable
// from the file table or any snapshot.
func (e *Engine) releaseOrphanedVersions() int {
	reachable := make(map[*Version]struct{}, len(e.versions))
	mark := func(inodes []*Inode) {
		for _, n := range inodes {
			for _, v := range n.Versions {
				reachable[v] = struct{}{}
			}
		}
	}
	mark(e.files.inodes)
	for _, s := range e.snapshots {
		mark(s.Inodes)
	}

	released := 0
	for v := range e.versions {
		if _, ok := reachable[v]; ok {
			continue
		}
		e.freeAll(v.BlockIDs)
		delete(e.versions, v)
		released++
	}
	if released > 0 {
		log.Debugf("[Engine] releaseOrphanedVersions: released %d versions", released)
	}
	return released
}
