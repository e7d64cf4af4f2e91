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
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"cowfs/internal/common"
)

// WriteStrategy selects how a write maps chunks to blocks
type WriteStrategy int

const (
	// StrategyCoW allocates a new block for each chunk and drops the old claim
	StrategyCoW WriteStrategy = iota
	// StrategyRoW redirects each chunk to a newly allocated block
	StrategyRoW
)

func (s WriteStrategy) String() string {
	if s == StrategyRoW {
		return "row"
	}
	return "cow"
}

// ParseWriteStrategy accepts "", "cow" and "row" (case insensitive). Empty means CoW.
func ParseWriteStrategy(s string) (WriteStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cow":
		return StrategyCoW, nil
	case "row":
		return StrategyRoW, nil
	default:
		return 0, fmt.Errorf("unknown write strategy %q: %w", s, common.ErrInvalidArgument)
	}
}

// splitChunks cuts data into size-byte chunks. Empty data is one empty chunk.
func splitChunks(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		chunks = append(chunks, data[off:end])
	}
	return chunks
}

// CreateFile adds an empty file
func (e *Engine) CreateFile(name string) (FileInfo, error) {
	if err := common.ValidateName("file", name); err != nil {
		return FileInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.files.lookup(name) != nil {
		return FileInfo{}, fmt.Errorf("file %q: %w", name, common.ErrExists)
	}
	now := e.cfg.Now()
	n := &Inode{
		ID:         e.files.nextID,
		Name:       name,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	e.files.nextID++
	e.files.inodes = append(e.files.inodes, n)
	log.Debugf("[FileTable] CreateFile: name=%s ino=%d", name, n.ID)
	return n.info(), nil
}

// WriteFile replaces the whole content of a file. If the pool runs out of
// blocks part way through, every allocation and free of the write is undone.
func (e *Engine) WriteFile(name string, data []byte, strategy WriteStrategy) (FileInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	n := e.files.lookup(name)
	if n == nil {
		return FileInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	if err := e.checkWrite(n, data); err != nil {
		return FileInfo{}, err
	}

	chunks := splitChunks(data, e.cfg.BlockSize)
	old := n.BlockIDs
	ids := make([]uint32, 0, len(chunks))

	e.pool.Begin()
	for i, chunk := range chunks {
		id, err := e.pool.Allocate(chunk)
		if err != nil {
			e.pool.Abort()
			log.Debugf("[FileTable] WriteFile: name=%s aborted at chunk %d/%d: %v", name, i, len(chunks), err)
			return FileInfo{}, fmt.Errorf("write %q: %w", name, err)
		}
		// Both strategies take a fresh block here, even when the old
		// block has no other owner.
		if i < len(old) {
			e.pool.Free(old[i])
		}
		ids = append(ids, id)
	}
	if len(old) > len(chunks) {
		e.freeAll(old[len(chunks):])
	}
	e.pool.Commit()

	n.BlockIDs = ids
	n.Size = int64(len(data))
	n.ModifiedAt = e.cfg.Now()

	e.metrics.TotalWrites++
	if strategy == StrategyRoW {
		e.metrics.RowWrites++
	} else {
		e.metrics.CowWrites++
	}
	e.metrics.TotalWriteTime += time.Since(start)
	log.Debugf("[FileTable] WriteFile: name=%s strategy=%s size=%d blocks=%d", name, strategy, n.Size, len(ids))
	return n.info(), nil
}

// ReadFile concatenates the payloads of a file's blocks in order
func (e *Engine) ReadFile(name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	n := e.files.lookup(name)
	if n == nil {
		return nil, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}

	data := e.contentOf(n)

	e.metrics.TotalReads++
	e.metrics.TotalReadTime += time.Since(start)
	return data, nil
}

// ListFiles returns all files in creation order
func (e *Engine) ListFiles() []FileInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	files := make([]FileInfo, 0, len(e.files.inodes))
	for _, n := range e.files.inodes {
		files = append(files, n.info())
	}
	return files
}

// Stat returns the summary of one file
func (e *Engine) Stat(name string) (FileInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return FileInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	return n.info(), nil
}

// DeleteFile removes a file and its live claims. Its versions keep their
// claims while any snapshot still refers to them. A file under any policy
// other than none cannot be deleted.
func (e *Engine) DeleteFile(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	if n.Policy != PolicyNone {
		return fmt.Errorf("file %q is %s: %w", name, n.Policy, common.ErrImmutable)
	}
	e.files.remove(name)
	e.freeAll(n.BlockIDs)
	released := e.releaseOrphanedVersions()
	log.Debugf("[FileTable] DeleteFile: name=%s ino=%d releasedVersions=%d", name, n.ID, released)
	return nil
}
