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

// Tag labels a version or a snapshot
type Tag struct {
	Name        string    `json:"tag"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Version is a captured block list of one file. It holds one claim on each
// of its blocks for as long as it is reachable from the file table or a
// snapshot. Only the tag list changes after creation.
type Version struct {
	ID          int
	BlockIDs    []uint32
	Size        int64
	Description string
	Tags        []Tag
	CreatedAt   time.Time
}

// VersionInfo describes a version for listings
type VersionInfo struct {
	ID          int       `json:"version_id"`
	Size        int64     `json:"size"`
	BlockCount  int       `json:"block_count"`
	Description string    `json:"description"`
	Tags        []Tag     `json:"tags"`
	TagCount    int       `json:"tag_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func (v *Version) info() VersionInfo {
	return VersionInfo{
		ID:          v.ID,
		Size:        v.Size,
		BlockCount:  len(v.BlockIDs),
		Description: v.Description,
		Tags:        slices.Clone(v.Tags),
		TagCount:    len(v.Tags),
		CreatedAt:   v.CreatedAt,
	}
}

func (v *Version) hasTag(tag string) bool {
	for _, t := range v.Tags {
		if t.Name == tag {
			return true
		}
	}
	return false
}

func findVersion(n *Inode, id int) *Version {
	for _, v := range n.Versions {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// CreateVersion captures the current block list of a file
func (e *Engine) CreateVersion(name, description string) (VersionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return VersionInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}

	e.retainAll("CreateVersion", n.BlockIDs)
	v := &Version{
		ID:          len(n.Versions) + 1,
		BlockIDs:    slices.Clone(n.BlockIDs),
		Size:        n.Size,
		Description: description,
		Tags:        []Tag{},
		CreatedAt:   e.cfg.Now(),
	}
	n.Versions = append(n.Versions, v)
	e.versions[v] = struct{}{}
	e.metrics.BytesSavedCow += uint64(n.Size)
	log.Debugf("[Version] CreateVersion: name=%s version=%d blocks=%d", name, v.ID, len(v.BlockIDs))
	return v.info(), nil
}

// ListVersions returns the history of a file, oldest first
func (e *Engine) ListVersions(name string) ([]VersionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return nil, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	infos := make([]VersionInfo, 0, len(n.Versions))
	for _, v := range n.Versions {
		infos = append(infos, v.info())
	}
	return infos, nil
}

// AddVersionTag appends a tag to a version. Block claims are unaffected.
func (e *Engine) AddVersionTag(name string, versionID int, tag, description string) (VersionInfo, error) {
	if err := common.ValidateName("tag", tag); err != nil {
		return VersionInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return VersionInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	v := findVersion(n, versionID)
	if v == nil {
		return VersionInfo{}, fmt.Errorf("file %q version %d: %w", name, versionID, common.ErrVersionNotFound)
	}
	v.Tags = append(v.Tags, Tag{Name: tag, Description: description, CreatedAt: e.cfg.Now()})
	log.Debugf("[Version] AddVersionTag: name=%s version=%d tag=%s", name, versionID, tag)
	return v.info(), nil
}

// FindVersionsByTag returns the versions of a file carrying tag
func (e *Engine) FindVersionsByTag(name, tag string) ([]VersionInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return nil, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	var infos []VersionInfo
	for _, v := range n.Versions {
		if v.hasTag(tag) {
			infos = append(infos, v.info())
		}
	}
	return infos, nil
}

// RollbackVersion makes a version's block list the live content of the
// file. History is left as it is. Files under a policy refuse it.
func (e *Engine) RollbackVersion(name string, versionID int) (FileInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	n := e.files.lookup(name)
	if n == nil {
		return FileInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	v := findVersion(n, versionID)
	if v == nil {
		return FileInfo{}, fmt.Errorf("file %q version %d: %w", name, versionID, common.ErrVersionNotFound)
	}
	if n.Policy != PolicyNone {
		return FileInfo{}, fmt.Errorf("file %q is %s: %w", name, n.Policy, common.ErrImmutable)
	}

	e.freeAll(n.BlockIDs)
	n.BlockIDs = slices.Clone(v.BlockIDs)
	n.Size = v.Size
	e.retainAll("RollbackVersion", n.BlockIDs)
	n.ModifiedAt = e.cfg.Now()

	e.metrics.TotalRollbacks++
	e.metrics.TotalRollbackTime += time.Since(start)
	log.Debugf("[Version] RollbackVersion: name=%s version=%d size=%d", name, versionID, n.Size)
	return n.info(), nil
}
