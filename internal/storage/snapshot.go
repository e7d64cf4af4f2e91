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
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	"cowfs/internal/common"
)

// Snapshot is a point-in-time copy of the whole file table. It holds one
// claim on every block of every captured inode until it is deleted.
type Snapshot struct {
	ID          uint64
	Name        string
	Description string
	Inodes      []*Inode
	Tags        []Tag
	CreatedAt   time.Time
	TotalSize   int64
}

// SnapshotInfo summarizes a snapshot for listings
type SnapshotInfo struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	TotalSize   int64     `json:"total_size"`
	InodeCount  int       `json:"inode_count"`
	Tags        []Tag     `json:"tags,omitempty"`
	TagCount    int       `json:"tag_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Snapshot) info() SnapshotInfo {
	return SnapshotInfo{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		TotalSize:   s.TotalSize,
		InodeCount:  len(s.Inodes),
		Tags:        slices.Clone(s.Tags),
		TagCount:    len(s.Tags),
		CreatedAt:   s.CreatedAt,
	}
}

// findSnapshot returns the first snapshot with the given name
func (e *Engine) findSnapshot(name string) (int, *Snapshot) {
	for i, s := range e.snapshots {
		if s.Name == name {
			return i, s
		}
	}
	return -1, nil
}

// CreateSnapshot captures every file. Names are not required to be unique;
// lookups by name use the oldest match.
func (e *Engine) CreateSnapshot(name, description string) (SnapshotInfo, error) {
	if err := common.ValidateName("snapshot", name); err != nil {
		return SnapshotInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	s := &Snapshot{
		ID:          e.nextSnapshotID,
		Name:        name,
		Description: description,
		Inodes:      make([]*Inode, 0, len(e.files.inodes)),
		Tags:        []Tag{},
		CreatedAt:   e.cfg.Now(),
	}
	for _, n := range e.files.inodes {
		e.retainAll("CreateSnapshot", n.BlockIDs)
		s.Inodes = append(s.Inodes, n.clone())
		s.TotalSize += n.Size
	}
	e.nextSnapshotID++
	e.snapshots = append(e.snapshots, s)

	e.metrics.TotalSnapshots++
	e.metrics.BytesSavedCow += uint64(s.TotalSize)
	e.metrics.TotalSnapshotTime += time.Since(start)
	log.Debugf("[Snapshot] CreateSnapshot: id=%d name=%s inodes=%d size=%d", s.ID, name, len(s.Inodes), s.TotalSize)
	return s.info(), nil
}

// ListSnapshots returns snapshots in creation order
func (e *Engine) ListSnapshots() []SnapshotInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	infos := make([]SnapshotInfo, 0, len(e.snapshots))
	for _, s := range e.snapshots {
		infos = append(infos, s.info())
	}
	return infos
}

// RollbackSnapshot replaces the file table with the snapshot's copy. The
// snapshot keeps its own claims, so it can be rolled back to again.
func (e *Engine) RollbackSnapshot(name string) (SnapshotInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	_, s := e.findSnapshot(name)
	if s == nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot %q: %w", name, common.ErrNotFound)
	}

	for _, n := range e.files.inodes {
		e.freeAll(n.BlockIDs)
	}
	restored := make([]*Inode, 0, len(s.Inodes))
	for _, captured := range s.Inodes {
		n := captured.clone()
		e.retainAll("RollbackSnapshot", n.BlockIDs)
		restored = append(restored, n)
	}
	e.files.inodes = restored
	released := e.releaseOrphanedVersions()

	e.metrics.TotalRollbacks++
	e.metrics.TotalRollbackTime += time.Since(start)
	log.Debugf("[Snapshot] RollbackSnapshot: id=%d name=%s inodes=%d releasedVersions=%d", s.ID, name, len(restored), released)
	return s.info(), nil
}

// DeleteSnapshot releases a snapshot's claims and forgets it
func (e *Engine) DeleteSnapshot(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, s := e.findSnapshot(name)
	if s == nil {
		return fmt.Errorf("snapshot %q: %w", name, common.ErrNotFound)
	}
	for _, n := range s.Inodes {
		e.freeAll(n.BlockIDs)
	}
	e.snapshots = slices.Delete(e.snapshots, i, i+1)
	released := e.releaseOrphanedVersions()
	log.Debugf("[Snapshot] DeleteSnapshot: id=%d name=%s releasedVersions=%d", s.ID, name, released)
	return nil
}

// AddSnapshotTag appends a tag to a snapshot
func (e *Engine) AddSnapshotTag(name, tag, description string) (SnapshotInfo, error) {
	if err := common.ValidateName("tag", tag); err != nil {
		return SnapshotInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, s := e.findSnapshot(name)
	if s == nil {
		return SnapshotInfo{}, fmt.Errorf("snapshot %q: %w", name, common.ErrNotFound)
	}
	s.Tags = append(s.Tags, Tag{Name: tag, Description: description, CreatedAt: e.cfg.Now()})
	log.Debugf("[Snapshot] AddSnapshotTag: name=%s tag=%s", name, tag)
	return s.info(), nil
}

// FindSnapshotsByTag returns the snapshots carrying tag
func (e *Engine) FindSnapshotsByTag(tag string) []SnapshotInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	var infos []SnapshotInfo
	for _, s := range e.snapshots {
		for _, t := range s.Tags {
			if t.Name == tag {
				infos = append(infos, s.info())
				break
			}
		}
	}
	return infos
}
